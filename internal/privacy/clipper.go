package privacy

import (
	"fmt"
	"math/rand"

	"github.com/hashicorp/go-hclog"
	"gonum.org/v1/gonum/floats"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// Clipper bounds a single client's contribution to L2 norm clipNorm and
// perturbs it with Gaussian noise of stddev noiseMultiplier*clipNorm per
// coordinate. Clipping first is what makes the noise calibration valid:
// after clipping, no client can move the aggregate by more than clipNorm.
type Clipper struct {
	clipNorm        float64
	noiseMultiplier float64
	dimension       int
	noiseRng        *rand.Rand
	logger          hclog.Logger
}

// NewClipper builds a clipper. The noise RNG must be the dedicated noise
// stream, never shared with client selection.
func NewClipper(clipNorm float64, noiseMultiplier float64, dimension int, noiseRng *rand.Rand,
	logger hclog.Logger) (*Clipper, error) {
	if clipNorm <= 0 {
		return nil, &common.ConfigurationError{Field: "clipNorm", Reason: fmt.Sprintf("must be > 0, got %g", clipNorm)}
	}
	if noiseMultiplier < 0 {
		return nil, &common.ConfigurationError{Field: "noiseMultiplier", Reason: fmt.Sprintf("must be >= 0, got %g", noiseMultiplier)}
	}
	if dimension < 1 {
		return nil, &common.ConfigurationError{Field: "dimension", Reason: fmt.Sprintf("must be >= 1, got %d", dimension)}
	}

	return &Clipper{
		clipNorm:        clipNorm,
		noiseMultiplier: noiseMultiplier,
		dimension:       dimension,
		noiseRng:        noiseRng,
		logger:          logger,
	}, nil
}

// Protect returns a new update with the clipped and noised vector. The input
// update is left untouched. A dimension mismatch excludes the client from
// the round.
func (clipper *Clipper) Protect(update *model.ClientUpdate) (*model.ClientUpdate, error) {
	if len(update.Vector) != clipper.dimension {
		return nil, &common.DimensionMismatchError{
			ClientId: update.ClientId,
			Want:     clipper.dimension,
			Got:      len(update.Vector),
		}
	}

	protected := common.CloneVector(update.Vector)

	norm := common.L2Norm(protected)
	if norm > clipper.clipNorm {
		floats.Scale(clipper.clipNorm/norm, protected)
		clipper.logger.Debug(fmt.Sprintf("Clipped update from client %s: norm %.6f -> %.6f", update.ClientId, norm, clipper.clipNorm))
	}

	// A zero-norm update is not scaled but still gets noise.
	if clipper.noiseMultiplier > 0 {
		stddev := clipper.noiseMultiplier * clipper.clipNorm
		for i := range protected {
			protected[i] += clipper.noiseRng.NormFloat64() * stddev
		}
	}

	return &model.ClientUpdate{
		ClientId:   update.ClientId,
		Vector:     protected,
		NumSamples: update.NumSamples,
		LocalLoss:  update.LocalLoss,
	}, nil
}
