package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/llhls/client/internal/cache"
	"github.com/llhls/client/internal/config"
	"github.com/llhls/client/internal/control"
	"github.com/llhls/client/internal/observability"
	"github.com/llhls/client/internal/variant"
	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpengine"
)

var (
	playlistURLFlag       string
	masterPlaylistURLFlag string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream a live channel's HLS media segments to an output sink",
	Long: `stream resolves a media-playlist URL (directly via --playlist-url, or by
selecting a variant out of --master-playlist-url) and drives the
low-latency control loop: reload the playlist, enqueue fresh segments, and
write the decoded transport bytes to whichever of --player, --record, or
--tcp-server is configured.`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringVar(&playlistURLFlag, "playlist-url", "", "fully-resolved media playlist URL (bypasses variant selection)")
	streamCmd.Flags().StringVar(&masterPlaylistURLFlag, "master-playlist-url", "", "master (multivariant) playlist URL to select a variant from")

	streamCmd.Flags().String("channel", "", "channel name, used as the playlist cache key")
	streamCmd.Flags().String("quality", config.DefaultQuality, `stream variant to select ("best" or an exact NAME)`)
	streamCmd.Flags().String("codecs", "", "codecs query hint passed through to variant discovery")
	streamCmd.Flags().Bool("no-low-latency", false, "force the normal-latency (EXTINF-driven) scheduler")
	streamCmd.Flags().String("playlist-cache-dir", "", "directory caching the resolved media playlist URL across runs")

	streamCmd.Flags().Bool("force-https", false, "reject any non-HTTPS URL")
	streamCmd.Flags().Bool("force-ipv4", false, "drop IPv6 candidates when connecting")
	streamCmd.Flags().Uint64("http-retries", config.DefaultHTTPRetries, "retry budget per HTTP request")
	streamCmd.Flags().Duration("http-timeout", config.DefaultHTTPTimeout, "connect/read/write timeout")
	streamCmd.Flags().String("user-agent", config.DefaultUserAgent, "User-Agent header value")

	streamCmd.Flags().String("player", "", "path to a player executable reading segment bytes from stdin")
	streamCmd.Flags().String("player-args", "", "space-separated player arguments; \"-\" is substituted with the playlist URL in passthrough mode")
	streamCmd.Flags().String("record", "", "file path to write segment bytes to")
	streamCmd.Flags().Bool("overwrite", false, "truncate --record instead of refusing to overwrite it")
	streamCmd.Flags().String("tcp-server", "", "address to broadcast segment bytes to over TCP, e.g. :8080")
	streamCmd.Flags().Bool("passthrough", false, "hand the resolved playlist URL to --player and exit when it exits")

	for _, pair := range [][2]string{
		{"stream.channel", "channel"},
		{"stream.quality", "quality"},
		{"stream.codecs", "codecs"},
		{"stream.no_low_latency", "no-low-latency"},
		{"stream.playlist_cache_dir", "playlist-cache-dir"},
		{"http.force_https", "force-https"},
		{"http.force_ipv4", "force-ipv4"},
		{"http.retries", "http-retries"},
		{"http.timeout", "http-timeout"},
		{"http.user_agent", "user-agent"},
		{"output.player", "player"},
		{"output.player_args", "player-args"},
		{"output.record", "record"},
		{"output.overwrite", "overwrite"},
		{"output.tcp_server", "tcp-server"},
		{"passthrough", "passthrough"},
	} {
		mustBindPFlag(pair[0], streamCmd.Flags().Lookup(pair[1]))
	}
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	log = observability.WithComponent(log, "stream")

	agent := httpengine.NewAgent(httpengine.Config{
		ForceHTTPS: cfg.HTTP.ForceHTTPS,
		ForceIPv4:  cfg.HTTP.ForceIPv4,
		Retries:    cfg.HTTP.Retries,
		Timeout:    cfg.HTTP.Timeout,
		UserAgent:  cfg.HTTP.UserAgent,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	playlistURL, err := resolvePlaylistURL(ctx, cfg, agent, log)
	if err != nil {
		return err
	}

	if cfg.Passthrough {
		return control.Passthrough(cfg.Output.Player, control.SplitPlayerArgs(cfg.Output.PlayerArgs), playlistURL.String(), log)
	}

	out, err := control.BuildSink(cfg.Output, playlistURL.String(), log)
	if err != nil {
		return err
	}

	fmt.Println(observability.Banner(cfg.Stream.Channel, cfg.Stream.Quality))
	log.Info("starting stream", "channel", cfg.Stream.Channel, "quality", cfg.Stream.Quality)
	return control.Run(ctx, agent, playlistURL, out, cfg.Stream.NoLowLatency, log)
}

// resolvePlaylistURL returns the media-playlist URL the control loop
// should stream from: a cache hit, an explicit --playlist-url, or a
// variant selected out of --master-playlist-url, in that preference
// order. A successful non-cache resolution is written back to the cache
// for the next run.
func resolvePlaylistURL(ctx context.Context, cfg *config.Config, agent *httpengine.Agent, log *slog.Logger) (hlsurl.URL, error) {
	var c *cache.Cache
	if cfg.Stream.PlaylistCacheDir != "" {
		c = cache.New(cfg.Stream.PlaylistCacheDir, cfg.Stream.Channel, cfg.Stream.Quality, log)
	}
	if c != nil {
		if cached, ok := c.Get(ctx, agent); ok {
			log.Info("using cached media playlist URL")
			return cached, nil
		}
	}

	var resolved hlsurl.URL
	switch {
	case playlistURLFlag != "":
		resolved = hlsurl.New(playlistURLFlag)
	case masterPlaylistURLFlag != "":
		var err error
		resolved, err = selectVariant(ctx, agent, masterPlaylistURLFlag, cfg.Stream.Quality)
		if err != nil {
			return hlsurl.URL{}, err
		}
	default:
		return hlsurl.URL{}, fmt.Errorf("cmd: one of --playlist-url or --master-playlist-url is required")
	}

	if c != nil {
		c.Create(resolved)
	}
	return resolved, nil
}

// selectVariant fetches masterURL's multivariant playlist and resolves the
// media-playlist URL matching quality, joining a relative variant URL
// against the master URL the way a browser would.
func selectVariant(ctx context.Context, agent *httpengine.Agent, masterURL, quality string) (hlsurl.URL, error) {
	tr, err := httpengine.NewTextRequest(ctx, agent, hlsurl.New(masterURL))
	if err != nil {
		return hlsurl.URL{}, fmt.Errorf("cmd: fetching master playlist: %w", err)
	}
	defer tr.Close()

	text, err := tr.Text(ctx)
	if err != nil {
		return hlsurl.URL{}, fmt.Errorf("cmd: fetching master playlist: %w", err)
	}

	streams, err := variant.Parse(text)
	if err != nil {
		return hlsurl.URL{}, err
	}
	stream, err := variant.Select(streams, quality)
	if err != nil {
		return hlsurl.URL{}, err
	}

	return resolveReference(masterURL, stream.URL)
}

func resolveReference(base, ref string) (hlsurl.URL, error) {
	if strings.Contains(ref, "://") {
		return hlsurl.New(ref), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return hlsurl.URL{}, fmt.Errorf("cmd: parsing master playlist URL: %w", err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return hlsurl.URL{}, fmt.Errorf("cmd: parsing variant URL %q: %w", ref, err)
	}
	return hlsurl.New(baseURL.ResolveReference(refURL).String()), nil
}
