package config

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"slotkeeper/internal/availability"
)

// WatchAvailability applies the file's availability settings and then polls
// the file, calling apply again only when a reload yields different settings.
// Edits to other sections are ignored until restart. A file that fails to
// load or validate keeps the last applied settings in force.
func WatchAvailability(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, apply func(availability.Settings)) error {
	if path == "" {
		path = "configs/config.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	applied := cfg.AvailabilitySettings()
	apply(applied)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			next, err := os.ReadFile(path)
			if err != nil || bytes.Equal(next, raw) {
				continue
			}
			raw = next

			cfg, err := Load(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("config reload rejected")
				continue
			}
			settings := cfg.AvailabilitySettings()
			if settings == applied {
				logger.Debug().Str("path", path).Msg("config changed outside availability; restart to apply")
				continue
			}
			applied = settings
			apply(settings)
		}
	}()

	return nil
}
