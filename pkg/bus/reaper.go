package bus

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opus-nx/orchestrator/pkg/graph"
)

// Reaper periodically sweeps the bus for stale sessions and cleans them up,
// so a session whose client disconnected without a clean unsubscribe (crash,
// abandoned tab) doesn't hold queues open forever. It also releases that
// session's reasoning-graph nodes and edges, since the Reasoning Graph
// exclusively owns that data for the lifetime of a session and nothing else
// ever frees it once the bus side goes stale. Grounded on
// r3e-network-service_layer's use of robfig/cron/v3 for its own
// stale-session reaper, and on the original's prune_stale_sessions (which
// calls graph.cleanup_session(sid) alongside bus.cleanup_session(sid)).
type Reaper struct {
	bus    *Bus
	graph  *graph.Graph
	maxAge time.Duration
	log    *slog.Logger
	cron   *cron.Cron
}

// NewReaper builds a reaper that cleans up sessions idle for longer than
// maxAge, running on the given cron schedule (e.g. "@every 5m").
func NewReaper(b *Bus, g *graph.Graph, maxAge time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{bus: b, graph: g, maxAge: maxAge, log: log.With("component", "bus_reaper")}
}

// Start schedules the sweep and returns immediately; call Stop to halt it.
func (r *Reaper) Start(schedule string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, r.sweep)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule. Safe to call even if Start was never called.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

func (r *Reaper) sweep() {
	stale := r.bus.StaleSessions(r.maxAge)
	var nodesRemoved int
	for _, sessionID := range stale {
		r.bus.CleanupSession(sessionID)
		if r.graph != nil {
			nodesRemoved += r.graph.CleanupSession(sessionID)
		}
	}
	if len(stale) > 0 {
		r.log.Info("reaped stale sessions", "count", len(stale), "graph_nodes_removed", nodesRemoved)
	}
}
