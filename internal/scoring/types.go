// Package scoring defines the pluggable scoring contract, the ordinal state
// scales of each entity kind and the transition detector.
package scoring

import (
	"context"

	"github.com/careflock/careflock-go/internal/datastore"
)

// Result is the ephemeral outcome of scoring one entity in one run. It is
// projected onto the entity's stored score columns, never persisted itself.
type Result struct {
	Score   float64            // 0-100
	State   string             // categorical stage or level on the kind's scale
	Factors map[string]float64 // named contributing signals, for explainability

	NeedsAttention bool
	IsTransition   bool
	IsConcerning   bool
}

// Func is a pluggable scoring function. Implementations must be side-effect
// free; persistence is the batch runner's job.
type Func func(ctx context.Context, entity datastore.Scoreable) (Result, error)

// Transition classifies the state change between two consecutive runs.
type Transition struct {
	IsTransition bool
	IsConcerning bool
}
