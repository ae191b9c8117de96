package model

// PrivacyAccountEntry records the privacy parameters spent in one round.
type PrivacyAccountEntry struct {
	Round           int32   `json:"round"`
	ClipNorm        float64 `json:"clipNorm"`
	NoiseMultiplier float64 `json:"noiseMultiplier"`
	Epsilon         float64 `json:"epsilon"`
}

// PrivacyAccount is the append-only log of per-round privacy expenditure.
// Epsilon composes additively across entries for a fixed delta.
type PrivacyAccount struct {
	Delta   float64               `json:"delta"`
	Entries []PrivacyAccountEntry `json:"entries"`
}

func NewPrivacyAccount(delta float64) *PrivacyAccount {
	return &PrivacyAccount{
		Delta:   delta,
		Entries: []PrivacyAccountEntry{},
	}
}

func (account *PrivacyAccount) Append(entry PrivacyAccountEntry) {
	account.Entries = append(account.Entries, entry)
}

func (account *PrivacyAccount) TotalEpsilon() float64 {
	total := 0.0
	for _, entry := range account.Entries {
		total += entry.Epsilon
	}

	return total
}

func (account *PrivacyAccount) Snapshot() PrivacyAccount {
	entries := make([]PrivacyAccountEntry, len(account.Entries))
	copy(entries, account.Entries)

	return PrivacyAccount{
		Delta:   account.Delta,
		Entries: entries,
	}
}
