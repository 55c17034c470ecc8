package service

import "github.com/kyaro/vps-broker/internal/models"

// Candidate pairs a worker with its live active-session count.
type Candidate struct {
	Worker *models.Worker
	Active int
}

// SelectionStrategy picks a dispatch target from workers that still have
// spare capacity, or returns nil when none do.
type SelectionStrategy func(candidates []Candidate) *models.Worker

// LeastLoaded picks the worker with the fewest active sessions. Ties go to
// the most recently registered worker, matching the eligible-worker query
// order.
func LeastLoaded(candidates []Candidate) *models.Worker {
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Active >= c.Worker.MaxSessions {
			continue
		}
		if best == nil || c.Active < best.Active {
			best = c
			continue
		}
		if c.Active == best.Active && c.Worker.CreatedAt.After(best.Worker.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	return best.Worker
}
