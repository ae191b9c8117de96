package checkpoint

import (
	"encoding/binary"
	"math"

	"github.com/golang/snappy"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// IStore persists the per-round checkpoint record and the reliability
// registry. Checkpointing is the only point at which global state changes,
// so a store sees exactly one write per completed round.
type IStore interface {
	SaveCheckpoint(state *model.GlobalModelState, account *model.PrivacyAccount) error
	LoadLatestCheckpoint() (*model.GlobalModelState, *model.PrivacyAccount, error)
	SaveReliabilityRecords(records []*model.ReliabilityRecord) error
	LoadReliabilityRecords() ([]*model.ReliabilityRecord, error)
	Close() error
}

func encodeVector(vector []float64) []byte {
	raw := make([]byte, 8*len(vector))
	for i, value := range vector {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(value))
	}

	return snappy.Encode(nil, raw)
}

func decodeVector(blob []byte) ([]float64, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, err
	}

	vector := make([]float64, len(raw)/8)
	for i := range vector {
		vector[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}

	return vector, nil
}
