package pollengine

import (
	"context"
	"time"
)

// pruneLoop removes idle hosts on a fixed interval until ctx is cancelled.
func (e *Engine) pruneLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	e.mu.RLock()
	interval := e.cfg.PruneInterval
	e.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.pruneServers(now)
		}
	}
}

// pruneServers stops and removes every host that nobody has touched within
// the drop interval and that has nothing on its poll list. The engine lock
// is held throughout so no caller can pick up a host while it is going away.
func (e *Engine) pruneServers(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	pruned := 0
	for host, s := range e.servers {
		if s.activeFields.Load() != 0 || s.idleFor(now) <= e.cfg.DropInterval {
			continue
		}

		if err := s.stop(e.cfg.StopTimeout); err != nil {
			e.logger.Error("idle host did not stop, keeping it", "host", host, "error", err)
			continue
		}

		delete(e.servers, host)
		for key, m := range e.monikers {
			if m == s {
				delete(e.monikers, key)
			}
		}
		pruned++

		e.metrics.ServerPruned(host)
		e.logger.Info("idle host pruned", "host", host, "idle_for", s.idleFor(now).Round(time.Second))
	}

	if pruned > 0 {
		e.metrics.SetServers(len(e.servers))
	}
}
