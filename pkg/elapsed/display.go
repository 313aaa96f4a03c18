package elapsed

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RefreshInterval is how often a running Display recomputes its value.
const RefreshInterval = time.Second

// Display holds the on-screen elapsed value for one job. It recomputes on every
// tick until frozen; after Freeze the last computed value is kept forever.
type Display struct {
	clock clockwork.Clock
	start string

	mu     sync.Mutex
	value  string
	frozen bool
}

// NewDisplay creates a Display for a job created at start and computes its first value.
// A nil clock means the real clock.
func NewDisplay(start string, clock clockwork.Clock) *Display {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &Display{clock: clock, start: start}
	d.value = Format(start, clock.Now())
	return d
}

// Value returns the last computed value.
func (d *Display) Value() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Tick recomputes the value unless the display is frozen and returns it.
func (d *Display) Tick() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.frozen {
		d.value = Format(d.start, d.clock.Now())
	}
	return d.value
}

// Freeze pins the current value. Called once the job is terminal.
func (d *Display) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (d *Display) Frozen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frozen
}

// Run ticks once per RefreshInterval, calling onTick with each new value, until
// ctx is done or the display is frozen.
func (d *Display) Run(ctx context.Context, onTick func(string)) {
	ticker := d.clock.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if d.Frozen() {
				return
			}
			v := d.Tick()
			if onTick != nil {
				onTick(v)
			}
		}
	}
}
