package pipeline

// Edge is a change in debounced presence.
type Edge int

const (
	// NoEdge means the stable value did not change.
	NoEdge Edge = iota
	// Rising means presence became stable true.
	Rising
	// Falling means presence became stable false.
	Falling
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "none"
	}
}

// Debouncer samples a flickering boolean every interval observations and
// reports an edge only when the sample differs from the previous one.
type Debouncer struct {
	interval int
	count    int
	stable   bool
}

// NewDebouncer returns a debouncer whose stable value starts false.
func NewDebouncer(interval int) *Debouncer {
	if interval < 1 {
		interval = 1
	}
	return &Debouncer{interval: interval}
}

// Observe feeds one raw value.
func (d *Debouncer) Observe(raw bool) Edge {
	d.count++
	if d.count < d.interval {
		return NoEdge
	}
	d.count = 0
	if raw == d.stable {
		return NoEdge
	}
	d.stable = raw
	if raw {
		return Rising
	}
	return Falling
}

// Stable returns the last sampled value.
func (d *Debouncer) Stable() bool { return d.stable }
