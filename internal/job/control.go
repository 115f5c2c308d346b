package job

import (
	"sync/atomic"

	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Control carries cooperative pause/cancel requests to a running job. The
// decomposition polls it between pages; requests set mid-page take effect at
// the next page boundary.
type Control struct {
	pause  atomic.Bool
	cancel atomic.Bool
}

// Pause requests a pause at the next page boundary.
func (c *Control) Pause() {
	c.pause.Store(true)
}

// Cancel requests cancellation at the next page boundary. Cancel wins over a
// concurrent pause.
func (c *Control) Cancel() {
	c.cancel.Store(true)
}

// Interrupt reports the strongest pending request.
func (c *Control) Interrupt() scholar.Interrupt {
	if c.cancel.Load() {
		return scholar.InterruptCancel
	}
	if c.pause.Load() {
		return scholar.InterruptPause
	}
	return scholar.InterruptNone
}
