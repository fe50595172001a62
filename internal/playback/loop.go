package playback

import (
	"context"
	"time"
)

// DefaultRefresh approximates a 60 Hz display refresh.
const DefaultRefresh = time.Second / 60

// Run drives Tick from a ticker until ctx is done. Rendering happens on every
// tick; the playhead only moves at the configured cadence.
func (e *Engine) Run(ctx context.Context, refresh time.Duration) {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Tick(now.Sub(last))
			last = now
		}
	}
}
