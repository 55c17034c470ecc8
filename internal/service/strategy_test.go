package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kyaro/vps-broker/internal/models"
)

func newCandidate(active, max int, createdAt time.Time) Candidate {
	return Candidate{
		Worker: &models.Worker{
			ID:          uuid.New(),
			Status:      models.WorkerStatusActive,
			MaxSessions: max,
			CreatedAt:   createdAt,
		},
		Active: active,
	}
}

func TestLeastLoaded(t *testing.T) {
	base := time.Now()

	t.Run("picks least loaded", func(t *testing.T) {
		a := newCandidate(2, 3, base)
		b := newCandidate(0, 3, base.Add(time.Minute))
		c := newCandidate(1, 3, base.Add(2*time.Minute))

		picked := LeastLoaded([]Candidate{a, b, c})
		assert.Equal(t, b.Worker.ID, picked.ID)
	})

	t.Run("skips workers at capacity", func(t *testing.T) {
		full := newCandidate(3, 3, base)
		spare := newCandidate(2, 3, base.Add(time.Minute))

		picked := LeastLoaded([]Candidate{full, spare})
		assert.Equal(t, spare.Worker.ID, picked.ID)
	})

	t.Run("nil when everyone is full", func(t *testing.T) {
		a := newCandidate(3, 3, base)
		b := newCandidate(5, 5, base)

		assert.Nil(t, LeastLoaded([]Candidate{a, b}))
	})

	t.Run("nil for empty candidate list", func(t *testing.T) {
		assert.Nil(t, LeastLoaded(nil))
	})

	t.Run("tie goes to newest worker", func(t *testing.T) {
		older := newCandidate(1, 3, base)
		newer := newCandidate(1, 3, base.Add(time.Hour))

		picked := LeastLoaded([]Candidate{older, newer})
		assert.Equal(t, newer.Worker.ID, picked.ID)
	})

	t.Run("zero max_sessions never dispatches", func(t *testing.T) {
		drained := newCandidate(0, 0, base)

		assert.Nil(t, LeastLoaded([]Candidate{drained}))
	})
}
