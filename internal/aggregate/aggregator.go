package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gonum.org/v1/gonum/floats"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// Aggregator merges a round's protected updates into one global delta with a
// coordinate-wise trimmed, reliability-weighted mean. Trimming happens per
// coordinate, so a poisoned client is rejected on exactly the coordinates
// where it is extreme, independently of its behavior elsewhere.
type Aggregator struct {
	trimFraction float64
	logger       hclog.Logger
}

func NewAggregator(trimFraction float64, logger hclog.Logger) (*Aggregator, error) {
	if trimFraction < 0 || trimFraction >= 0.5 {
		return nil, &common.ConfigurationError{Field: "trimFraction", Reason: fmt.Sprintf("must be in [0, 0.5), got %g", trimFraction)}
	}

	return &Aggregator{
		trimFraction: trimFraction,
		logger:       logger,
	}, nil
}

// TrimCount is the number of values dropped from each end per coordinate for
// the given participant count.
func (aggregator *Aggregator) TrimCount(participants int) int {
	return int(math.Floor(aggregator.trimFraction * float64(participants)))
}

type contribution struct {
	value    float64
	weight   float64
	clientId string
}

// Aggregate produces the global delta for one round. Weights are the
// reliability scores keyed by client id; they are renormalized over the
// surviving set of each coordinate. With trimFraction 0 this is the
// reliability-weighted mean; with uniform weights it is the plain trimmed
// mean.
func (aggregator *Aggregator) Aggregate(updates []*model.ClientUpdate, weights map[string]float64) ([]float64, error) {
	participants := len(updates)
	if participants == 0 {
		return nil, &common.ConfigurationError{Field: "updates", Reason: "no updates to aggregate"}
	}

	trim := aggregator.TrimCount(participants)
	if participants-2*trim < 1 {
		return nil, &common.ConfigurationError{
			Field:  "trimFraction",
			Reason: fmt.Sprintf("trimming %d from each end of %d participants leaves nothing", trim, participants),
		}
	}

	dimension := len(updates[0].Vector)
	for _, update := range updates {
		if len(update.Vector) != dimension {
			return nil, &common.DimensionMismatchError{
				ClientId: update.ClientId,
				Want:     dimension,
				Got:      len(update.Vector),
			}
		}
	}

	delta := make([]float64, dimension)
	contributions := make([]contribution, participants)
	keptValues := make([]float64, 0, participants)
	keptWeights := make([]float64, 0, participants)

	for coordinate := 0; coordinate < dimension; coordinate++ {
		for i, update := range updates {
			contributions[i] = contribution{
				value:    update.Vector[coordinate],
				weight:   weights[update.ClientId],
				clientId: update.ClientId,
			}
		}

		// Ties broken by client id so the trim is deterministic.
		sort.Slice(contributions, func(i, j int) bool {
			if contributions[i].value != contributions[j].value {
				return contributions[i].value < contributions[j].value
			}
			return contributions[i].clientId < contributions[j].clientId
		})

		keptValues = keptValues[:0]
		keptWeights = keptWeights[:0]
		for _, c := range contributions[trim : participants-trim] {
			keptValues = append(keptValues, c.value)
			keptWeights = append(keptWeights, c.weight)
		}

		weightSum := floats.Sum(keptWeights)
		if weightSum == 0 {
			delta[coordinate] = floats.Sum(keptValues) / float64(len(keptValues))
			continue
		}

		delta[coordinate] = floats.Dot(keptValues, keptWeights) / weightSum
	}

	aggregator.logger.Debug(fmt.Sprintf("Aggregated %d updates, trimmed %d per end, delta norm %.6f",
		participants, trim, common.L2Norm(delta)))

	return delta, nil
}
