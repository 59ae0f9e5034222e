package catalog

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Watch loads path into store and keeps reloading it whenever the file's
// modification time moves forward. The initial load error is returned; later
// reload errors are logged and the previous catalog stays active.
func Watch(ctx context.Context, path string, interval time.Duration, store *Store, logger *zerolog.Logger) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c, err := Load(path)
	if err != nil {
		return err
	}
	store.Replace(c)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				c, err := Load(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("catalog reload failed")
					continue
				}
				lastMod = info.ModTime()
				store.Replace(c)
				logger.Info().Str("path", path).Int("services", len(c.Services)).Msg("catalog reloaded")
			}
		}
	}()

	return nil
}
