package model

import "time"

// GlobalModelState is the single evolving model of the federation. There is
// exactly one live instance, owned by the round orchestrator; everyone else
// only ever sees value snapshots.
type GlobalModelState struct {
	Round          int32
	Parameters     []float64
	CreatedAt      time.Time
	CheckpointedAt time.Time
}

func NewGlobalModelState(dimension int32) *GlobalModelState {
	return &GlobalModelState{
		Round:      0,
		Parameters: make([]float64, dimension),
		CreatedAt:  time.Now(),
	}
}

func (state *GlobalModelState) Dimension() int {
	return len(state.Parameters)
}

// Snapshot returns a deep copy safe to hand to concurrent readers while the
// orchestrator keeps mutating the live instance between rounds.
func (state *GlobalModelState) Snapshot() GlobalModelState {
	parameters := make([]float64, len(state.Parameters))
	copy(parameters, state.Parameters)

	return GlobalModelState{
		Round:          state.Round,
		Parameters:     parameters,
		CreatedAt:      state.CreatedAt,
		CheckpointedAt: state.CheckpointedAt,
	}
}
