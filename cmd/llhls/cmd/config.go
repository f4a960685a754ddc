package cmd

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/llhls/client/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration as YAML",
	Long: `dump prints every configuration option at its default value in YAML
format, suitable for redirecting into a config file to start from:

  llhls config dump > llhls.yaml

Options can then be overridden by environment variable (LLHLS_HTTP_RETRIES,
LLHLS_STREAM_QUALITY, ...) or command-line flag.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("cmd: unmarshaling default config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("cmd: marshaling default config: %w", err)
	}

	fmt.Println("# llhls configuration file")
	fmt.Println("#")
	fmt.Println("# All values below are defaults. Environment variables use the LLHLS_")
	fmt.Println("# prefix and underscores for nesting, e.g. LLHLS_HTTP_TIMEOUT.")
	fmt.Println()
	fmt.Print(string(yamlData))
	return nil
}

// toMap flattens a config struct into a map keyed by its mapstructure tags,
// so the dumped YAML matches the keys Load actually reads rather than Go
// field names.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		if field.Kind() == reflect.Struct {
			result[key] = toMap(field.Interface())
		} else {
			result[key] = field.Interface()
		}
	}
	return result
}
