package domain

import (
	"fmt"
	"time"
)

// Blast aggregates the outcome of one dispatch attempt of a campaign.
type Blast struct {
	ID         string
	CampaignID string
	Sends      int
	Opens      int
	Clicks     int
	Bounces    int
	Complaints int
	Replies    int
	SentAt     time.Time
	UpdatedAt  time.Time
}

// BlastDelta holds non-negative counter increments applied to a blast.
type BlastDelta struct {
	Sends      int
	Opens      int
	Clicks     int
	Bounces    int
	Complaints int
	Replies    int
}

func (d BlastDelta) Validate() error {
	if d.Sends < 0 || d.Opens < 0 || d.Clicks < 0 || d.Bounces < 0 || d.Complaints < 0 || d.Replies < 0 {
		return fmt.Errorf("%w: blast counters never decrease", ErrValidation)
	}
	return nil
}

func (d BlastDelta) IsZero() bool {
	return d == BlastDelta{}
}

// Add applies d to b in memory. Storage applies deltas atomically on its own.
func (d BlastDelta) Add(b *Blast) {
	b.Sends += d.Sends
	b.Opens += d.Opens
	b.Clicks += d.Clicks
	b.Bounces += d.Bounces
	b.Complaints += d.Complaints
	b.Replies += d.Replies
}
