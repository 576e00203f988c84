package cli

import (
	"sync"

	"github.com/Paintersrp/concur/internal/engine"
	"github.com/Paintersrp/concur/internal/metrics"
	"github.com/Paintersrp/concur/internal/tui"
)

// metricsSink records lifecycle events in the Prometheus registry.
type metricsSink struct{}

func (metricsSink) Publish(evt engine.Event) {
	switch evt.Type {
	case engine.EventTypeExited, engine.EventTypeSpawnFailed:
		metrics.ObserveCommand(metrics.ResultFor(evt.ExitCode, evt.Err), evt.Elapsed)
	case engine.EventTypeInterrupt, engine.EventTypeKill:
		metrics.RecordInterrupt(string(evt.Type))
	}
}

// dashboardRelay forwards events to the dashboard while one is attached. The
// group is built before the dashboard that displays it, so the sink has to
// be wired first and pointed at the dashboard later.
type dashboardRelay struct {
	mu   sync.Mutex
	dash *tui.UI
}

func (r *dashboardRelay) set(dash *tui.UI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dash = dash
}

func (r *dashboardRelay) Publish(evt engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dash != nil {
		r.dash.Publish(evt)
	}
}
