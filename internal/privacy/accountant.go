package privacy

import (
	"math"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// Accountant keeps the append-only privacy-loss log for a run. One entry is
// recorded per completed round and epsilon composes additively.
type Accountant struct {
	account *model.PrivacyAccount
}

func NewAccountant(delta float64) *Accountant {
	return &Accountant{
		account: model.NewPrivacyAccount(delta),
	}
}

// RoundEpsilon is the per-round epsilon of the Gaussian mechanism with the
// given noise multiplier at privacy parameter delta. A zero multiplier means
// no noise and an unbounded privacy loss.
func RoundEpsilon(noiseMultiplier float64, delta float64) float64 {
	if noiseMultiplier == 0 {
		return math.Inf(1)
	}

	return math.Sqrt(2*math.Log(1.25/delta)) / noiseMultiplier
}

func (accountant *Accountant) RecordRound(round int32, clipNorm float64, noiseMultiplier float64) {
	accountant.account.Append(model.PrivacyAccountEntry{
		Round:           round,
		ClipNorm:        clipNorm,
		NoiseMultiplier: noiseMultiplier,
		Epsilon:         RoundEpsilon(noiseMultiplier, accountant.account.Delta),
	})
}

func (accountant *Accountant) TotalEpsilon() float64 {
	return accountant.account.TotalEpsilon()
}

func (accountant *Accountant) Account() *model.PrivacyAccount {
	return accountant.account
}

// Restore replaces the log with a previously checkpointed account.
func (accountant *Accountant) Restore(account *model.PrivacyAccount) {
	accountant.account = account
}
