package alerts

import (
	"container/ring"
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/metrics"
)

// recentCapacity is how many alerts Recent can return.
const recentCapacity = 100

// Notifier delivers an alert to one sink
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert Alert) error

func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// Dispatcher fans alerts out to every registered notifier and keeps the most
// recent ones in memory for the control API.
type Dispatcher struct {
	notifiers []namedNotifier
	metrics   *metrics.Metrics

	mu     sync.Mutex
	recent *ring.Ring
	count  int
}

type namedNotifier struct {
	name string
	n    Notifier
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		metrics: m,
		recent:  ring.New(recentCapacity),
	}
}

// Register adds a notifier. Not safe to call concurrently with Dispatch.
func (d *Dispatcher) Register(name string, n Notifier) {
	d.notifiers = append(d.notifiers, namedNotifier{name: name, n: n})
	log.Info().Str("notifier", name).Msg("Alert notifier registered")
}

// Dispatch delivers an alert synchronously. Notifier failures are logged and
// never returned; a broken sink must not stall the monitors.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	d.mu.Lock()
	d.recent.Value = alert
	d.recent = d.recent.Next()
	d.count++
	d.mu.Unlock()

	d.metrics.ObserveAlert(string(alert.Type))

	for _, nn := range d.notifiers {
		if err := nn.n.Notify(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("notifier", nn.name).
				Str("type", string(alert.Type)).
				Msg("Failed to deliver alert")
		}
	}
}

// Recent returns up to limit alerts, newest first. limit <= 0 means all kept.
func (d *Dispatcher) Recent(limit int) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	if limit <= 0 || limit > recentCapacity {
		limit = recentCapacity
	}

	out := make([]Alert, 0, min(limit, d.count))
	// d.recent points at the next free slot; walk backwards from the newest
	r := d.recent.Prev()
	for i := 0; i < recentCapacity && len(out) < limit; i++ {
		if r.Value == nil {
			break
		}
		out = append(out, r.Value.(Alert))
		r = r.Prev()
	}
	return out
}

// Total returns how many alerts have been dispatched.
func (d *Dispatcher) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
