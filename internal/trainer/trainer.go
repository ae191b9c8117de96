package trainer

import (
	"context"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// LocalUpdate is what a local trainer hands back for one round: the raw
// parameter delta plus the evidence the reliability scorer consumes.
type LocalUpdate struct {
	Vector     []float64
	NumSamples int32
	LocalLoss  float64
}

// ITrainer is the boundary with the external local trainer. An
// implementation must return a vector of the agreed dimensionality or an
// explicit error; the coordinator never looks inside the training process.
type ITrainer interface {
	TrainLocal(ctx context.Context, snapshot model.GlobalModelState, dataHandle string) (*LocalUpdate, error)
}

// TrainFunc adapts a plain function to ITrainer.
type TrainFunc func(ctx context.Context, snapshot model.GlobalModelState, dataHandle string) (*LocalUpdate, error)

func (f TrainFunc) TrainLocal(ctx context.Context, snapshot model.GlobalModelState, dataHandle string) (*LocalUpdate, error) {
	return f(ctx, snapshot, dataHandle)
}
