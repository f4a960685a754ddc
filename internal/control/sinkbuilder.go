package control

import (
	"fmt"
	"log/slog"

	"github.com/llhls/client/internal/config"
	"github.com/llhls/client/internal/sink"
)

// BuildSink assembles the output sinks named in cfg into a single
// multiplexing sink.Sink, in player/record/tcp_server order. Opening a
// configured sink that fails tears down any sinks already opened before
// returning the error.
func BuildSink(cfg config.OutputConfig, playlistURL string, log *slog.Logger) (*sink.Multi, error) {
	if log == nil {
		log = slog.Default()
	}

	var opened []sink.Sink
	closeOpened := func() {
		for _, s := range opened {
			if c, ok := s.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		}
	}

	if cfg.Player != "" {
		ps, err := sink.NewPlayerSink(cfg.Player, SplitPlayerArgs(cfg.PlayerArgs), playlistURL)
		if err != nil {
			closeOpened()
			return nil, fmt.Errorf("control: opening player sink: %w", err)
		}
		opened = append(opened, ps)
	}

	if cfg.Record != "" {
		fs, err := sink.NewFileSink(cfg.Record, cfg.Overwrite)
		if err != nil {
			closeOpened()
			return nil, fmt.Errorf("control: opening file sink: %w", err)
		}
		opened = append(opened, fs)
	}

	if cfg.TCPServer != "" {
		ts, err := sink.NewTCPSink(cfg.TCPServer, log)
		if err != nil {
			closeOpened()
			return nil, fmt.Errorf("control: opening tcp sink: %w", err)
		}
		opened = append(opened, ts)
	}

	return sink.NewMulti(opened...), nil
}
