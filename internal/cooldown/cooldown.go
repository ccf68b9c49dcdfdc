package cooldown

import (
	"context"
	"log"
	"time"

	"bloodlink/internal/repository"
)

// Reenabler periodically flips donors back to available once their
// gender-specific cooldown has elapsed.
type Reenabler struct {
	donors   repository.DonorStore
	interval time.Duration
}

func NewReenabler(donors repository.DonorStore, interval time.Duration) *Reenabler {
	return &Reenabler{donors: donors, interval: interval}
}

func (r *Reenabler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.donors.ReenableAvailability(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("Error re-enabling donors: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Re-enabled %d donors after cooldown", n)
			}
		}
	}
}
