package control

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/llhls/client/internal/observability"
)

// Passthrough hands playlistURL straight to the external player and waits
// for it to exit, bypassing the entire streaming core: no playlist
// reloads, no scheduler, no fetch worker. The literal "-" token in args is
// replaced with playlistURL; if args carries no such token, playlistURL is
// appended, matching the original source's player.rs::passthrough.
func Passthrough(player string, args []string, playlistURL string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if player == "" {
		return fmt.Errorf("control: passthrough requires an output.player path")
	}
	fmt.Fprintf(os.Stdout, "[%s] passing playlist URL through to %s\n", observability.StyledLevel(slog.LevelInfo), player)
	log.Info("passing playlist URL through to player")

	resolved := make([]string, 0, len(args)+1)
	substituted := false
	for _, a := range args {
		if a == "-" {
			resolved = append(resolved, playlistURL)
			substituted = true
		} else {
			resolved = append(resolved, a)
		}
	}
	if !substituted {
		resolved = append(resolved, playlistURL)
	}

	cmd := exec.Command(player, resolved...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("control: running player %s: %w", player, err)
	}
	return nil
}

// SplitPlayerArgs splits a player_args config string into argv tokens on
// whitespace, the same convention the original source's Cow<str> "-a"
// flag used before it was joined back into a single exec arg vector.
func SplitPlayerArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
