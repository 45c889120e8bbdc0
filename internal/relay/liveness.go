package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
)

// Sweep runs one liveness round over every open camera connection:
// connections that did not answer the previous ping are terminated, the
// rest are pinged. It returns how many were terminated. A camera that stops
// answering is gone within two rounds.
func (r *Relay) Sweep() int {
	terminated := 0
	for _, c := range r.snapshot() {
		if c.isClosed() || c.heartbeat() {
			continue
		}
		c.logger.Info().Msg("Camera missed heartbeat, terminating connection")
		c.Close()
		metrics.HeartbeatTerminationsTotal.Inc()
		terminated++
	}
	return terminated
}

// RunLiveness sweeps every HeartbeatInterval until ctx is cancelled.
func (r *Relay) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.opts.HeartbeatInterval).Msg("Camera liveness monitor started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Debug().Int("terminated", n).Msg("Liveness sweep finished")
			}
		}
	}
}
