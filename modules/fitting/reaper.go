package fitting

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/metrics"
)

// Reaper marks generations stuck in processing as failed. A process that
// died mid-attempt never debited, so failing the record is all that is left.
// Pending rows are left alone; pending → failed is not a legal transition.
type Reaper struct {
	store   RecordStore
	timeout time.Duration
	now     func() time.Time
}

func NewReaper(store RecordStore, timeout time.Duration) *Reaper {
	return &Reaper{store: store, timeout: timeout, now: time.Now}
}

// Sweep - timeout 보다 오래 processing 인 레코드를 failed 로
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.timeout)
	n, err := r.store.FailStaleGenerations(ctx, cutoff, interruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ReapedGenerations.Add(float64(n))
		log.Warn().Int("count", n).Time("cutoff", cutoff).Msg("🧹 [Reaper] Marked stale generations failed")
	}
	return n, nil
}

// Start runs Sweep every timeout/2 until ctx is done. A zero timeout
// disables the reaper.
func (r *Reaper) Start(ctx context.Context) {
	if r.timeout <= 0 {
		log.Info().Msg("ℹ️  [Reaper] Disabled")
		return
	}
	interval := r.timeout / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil {
					log.Error().Err(err).Msg("❌ [Reaper] Sweep failed")
				}
			}
		}
	}()
	log.Info().Dur("timeout", r.timeout).Dur("interval", interval).Msg("🔄 [Reaper] Started")
}
