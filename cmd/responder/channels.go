package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/port/dispatch"
	"github.com/openrelief/responder/internal/service"
)

// buildChannels instantiates a delivery tool for every configured channel.
// Channel order in the returned slice is stable for logging; dispatch order
// comes from the per-level preference lists, not from here.
func buildChannels(cfg config.Dispatch) ([]service.Channel, error) {
	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	channels := make([]service.Channel, 0, len(names))
	for _, name := range names {
		tc := cfg.Tools[name]
		tool, err := dispatch.New(tc.Provider, tc.Config)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		channels = append(channels, service.Channel{Name: name, Tool: tool})
		slog.Info("channel configured", "channel", name, "provider", tc.Provider)
	}
	return channels, nil
}
