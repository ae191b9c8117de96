package trainer

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// SimulatedTrainer stands in for the external motion-estimation trainer in
// simulations and tests. Each client pulls the global parameters toward a
// fixed per-client target derived from its data handle, which gives the
// federation a stationary optimum without any real training.
type SimulatedTrainer struct {
	Dimension  int
	StepSize   float64
	NumSamples int32
	Latency    time.Duration
}

func NewSimulatedTrainer(dimension int, stepSize float64) *SimulatedTrainer {
	return &SimulatedTrainer{
		Dimension:  dimension,
		StepSize:   stepSize,
		NumSamples: 100,
	}
}

func (trainer *SimulatedTrainer) TrainLocal(ctx context.Context, snapshot model.GlobalModelState,
	dataHandle string) (*LocalUpdate, error) {
	if trainer.Latency > 0 {
		select {
		case <-time.After(trainer.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	target := trainer.clientTarget(dataHandle)

	gap := make([]float64, trainer.Dimension)
	floats.SubTo(gap, target, snapshot.Parameters)

	update := common.CloneVector(gap)
	floats.Scale(trainer.StepSize, update)

	return &LocalUpdate{
		Vector:     update,
		NumSamples: trainer.NumSamples,
		LocalLoss:  floats.Norm(gap, 2),
	}, nil
}

// clientTarget derives a deterministic target vector on the unit sphere from
// the data handle, so repeated runs see identical synthetic data.
func (trainer *SimulatedTrainer) clientTarget(dataHandle string) []float64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(dataHandle))
	seed := hasher.Sum64()

	target := make([]float64, trainer.Dimension)
	for i := range target {
		// Cheap deterministic pseudo-random coordinates from the hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		target[i] = math.Sin(float64(seed % 100003))
	}

	return common.Normalize(target)
}
