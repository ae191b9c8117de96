package checkpoint

import (
	"sync"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// MemoryStore is a non-durable IStore for simulations and tests.
type MemoryStore struct {
	mu       sync.Mutex
	states   []model.GlobalModelState
	accounts []model.PrivacyAccount
	records  []*model.ReliabilityRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (store *MemoryStore) SaveCheckpoint(state *model.GlobalModelState, account *model.PrivacyAccount) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.states = append(store.states, state.Snapshot())
	store.accounts = append(store.accounts, account.Snapshot())

	return nil
}

func (store *MemoryStore) LoadLatestCheckpoint() (*model.GlobalModelState, *model.PrivacyAccount, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if len(store.states) == 0 {
		return nil, nil, nil
	}

	state := store.states[len(store.states)-1].Snapshot()
	account := store.accounts[len(store.accounts)-1].Snapshot()

	return &state, &account, nil
}

func (store *MemoryStore) SaveReliabilityRecords(records []*model.ReliabilityRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.records = records

	return nil
}

func (store *MemoryStore) LoadReliabilityRecords() ([]*model.ReliabilityRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.records, nil
}

func (store *MemoryStore) Close() error {
	return nil
}

// Checkpoints returns every checkpointed state in order, oldest first.
func (store *MemoryStore) Checkpoints() []model.GlobalModelState {
	store.mu.Lock()
	defer store.mu.Unlock()

	states := make([]model.GlobalModelState, len(store.states))
	copy(states, store.states)

	return states
}
