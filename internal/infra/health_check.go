package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultExecCheckInterval = 5 * time.Second

// MonitorExecutable fires once when the running binary is replaced on disk,
// so a supervisor can restart the process with the new build. The channel
// is closed without a value when ctx ends or the binary cant be watched.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultExecCheckInterval
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		entry := log.WithField("object", "MonitorExecutable")

		exeFilename, err := os.Executable()
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cant resolve executable path")
			return
		}
		stat, err := os.Stat(exeFilename)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cant stat executable")
			return
		}
		originalTime := stat.ModTime()
		entry.WithField("path", exeFilename).Debug("watching executable")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exeFilename)
				if err != nil {
					entry.WithField("error", err.Error()).Warn("cant stat executable")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
