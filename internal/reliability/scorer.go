package reliability

import (
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gonum.org/v1/gonum/floats"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

const lossEpsilon = 1e-9

// Scorer maintains per-client trust scores derived from update history.
// Evidence from the current round is blended with the prior smoothed score
// using a fixed decay factor, so one bad round cannot zero out a trusted
// client and one good round cannot rehabilitate a bad one.
type Scorer struct {
	decay      float64
	minHistory int32
	records    map[string]*model.ReliabilityRecord
	logger     hclog.Logger
}

func NewScorer(decay float64, minHistory int32, logger hclog.Logger) (*Scorer, error) {
	if decay <= 0 || decay >= 1 {
		return nil, &common.ConfigurationError{Field: "reliabilityDecay", Reason: fmt.Sprintf("must be in (0,1), got %g", decay)}
	}
	if minHistory < 0 {
		return nil, &common.ConfigurationError{Field: "minHistoryRounds", Reason: fmt.Sprintf("must be >= 0, got %d", minHistory)}
	}

	return &Scorer{
		decay:      decay,
		minHistory: minHistory,
		records:    make(map[string]*model.ReliabilityRecord),
		logger:     logger,
	}, nil
}

// Score folds this round's update into the client's record and returns the
// updated score. Evidence combines direction stability against the smoothed
// historical direction with the normalized local loss improvement; both sit
// in [0,1] with 0.5 neutral.
func (scorer *Scorer) Score(update *model.ClientUpdate) float64 {
	record, found := scorer.records[update.ClientId]
	if !found {
		record = &model.ReliabilityRecord{
			ClientId: update.ClientId,
			Score:    common.NEUTRAL_RELIABILITY_SCORE,
		}
		scorer.records[update.ClientId] = record
	}

	direction := common.Normalize(update.Vector)

	stability := common.NEUTRAL_RELIABILITY_SCORE
	improvement := common.NEUTRAL_RELIABILITY_SCORE
	if record.RoundsSeen > 0 {
		stability = (common.CosineSimilarity(direction, record.SmoothedDir) + 1) / 2
		lossDelta := (record.SmoothedLoss - update.LocalLoss) / (math.Abs(record.SmoothedLoss) + lossEpsilon)
		improvement = common.Clamp01(0.5 + 0.5*lossDelta)
	}

	evidence := 0.5*stability + 0.5*improvement
	record.Score = common.Clamp01(scorer.decay*record.Score + (1-scorer.decay)*evidence)

	if record.RoundsSeen == 0 {
		record.SmoothedDir = direction
		record.SmoothedLoss = update.LocalLoss
	} else {
		floats.Scale(scorer.decay, record.SmoothedDir)
		floats.AddScaled(record.SmoothedDir, 1-scorer.decay, direction)
		record.SmoothedLoss = scorer.decay*record.SmoothedLoss + (1-scorer.decay)*update.LocalLoss
	}
	record.RoundsSeen++

	scorer.logger.Debug(fmt.Sprintf("Scored client %s: stability %.3f, improvement %.3f, score %.3f",
		update.ClientId, stability, improvement, record.Score))

	return record.Score
}

// Weight is the aggregation weight for a client. Clients with less than the
// minimum history keep a provisional neutral weight.
func (scorer *Scorer) Weight(clientId string) float64 {
	record, found := scorer.records[clientId]
	if !found || record.RoundsSeen < scorer.minHistory {
		return common.NEUTRAL_RELIABILITY_SCORE
	}

	return record.Score
}

func (scorer *Scorer) Record(clientId string) *model.ReliabilityRecord {
	return scorer.records[clientId]
}

// Records returns all records sorted by client id, for checkpointing.
func (scorer *Scorer) Records() []*model.ReliabilityRecord {
	records := make([]*model.ReliabilityRecord, 0, len(scorer.records))
	for _, record := range scorer.records {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ClientId < records[j].ClientId
	})

	return records
}

// Restore loads previously checkpointed records, replacing current state.
func (scorer *Scorer) Restore(records []*model.ReliabilityRecord) {
	scorer.records = make(map[string]*model.ReliabilityRecord)
	for _, record := range records {
		scorer.records[record.ClientId] = record
	}
}
