package status

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// StopFlag watches for a flag file. When the file appears it is removed and
// the trigger callback runs.
type StopFlag struct {
	path     string
	interval time.Duration
	onStop   func()
}

// StopFlagOption configures a [StopFlag].
type StopFlagOption func(*StopFlag)

// WithInterval sets the polling interval. The default is 500ms.
func WithInterval(d time.Duration) StopFlagOption {
	return func(f *StopFlag) {
		if d > 0 {
			f.interval = d
		}
	}
}

// NewStopFlag creates a watcher for path. onStop runs on the polling
// goroutine each time the flag is observed.
func NewStopFlag(path string, onStop func(), opts ...StopFlagOption) *StopFlag {
	f := &StopFlag{
		path:     path,
		interval: 500 * time.Millisecond,
		onStop:   onStop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the watched path.
func (f *StopFlag) Path() string { return f.path }

// Clear removes a stale flag. A missing flag is not an error.
func (f *StopFlag) Clear() error {
	if f.path == "" {
		return nil
	}
	if err := removeIfExists(f.path); err != nil {
		return fmt.Errorf("status: clear stop flag: %w", err)
	}
	return nil
}

// Present reports whether the flag file exists.
func (f *StopFlag) Present() bool {
	if f.path == "" {
		return false
	}
	_, err := os.Stat(f.path)
	return err == nil
}

// Run polls until ctx is cancelled. It always returns nil.
func (f *StopFlag) Run(ctx context.Context) error {
	if f.path == "" {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.check()
		}
	}
}

func (f *StopFlag) check() {
	if !f.Present() {
		return
	}
	if err := f.Clear(); err != nil {
		slog.Warn("stop flag: cannot remove flag file", "path", f.path, "err", err)
	}
	slog.Info("stop flag detected", "path", f.path)
	if f.onStop != nil {
		f.onStop()
	}
}
