package orchestrator

import (
	"context"
	"time"
)

// heartbeat renews the lease every HeartbeatInterval until ctx ends.
// A failed renewal is logged and never ends the session; the server timeout covers lost heartbeats.
func (s *Session) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
			err := s.adm.Renew(hbCtx, s.req.Code)
			cancel()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				s.metrics.heartbeatFailure()
				s.log.Warn("session.heartbeat.fail", "failures", failures, "err", err)
				continue
			}
			failures = 0
		}
	}
}
