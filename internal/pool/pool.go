package pool

import (
	"sync"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// ClientPool is the stable id-indexed mapping of known participants,
// independent of which clients get selected in a given round. Entries are
// added and removed as clients join and leave, but reliability history lives
// elsewhere and survives pool churn.
type ClientPool struct {
	mu      sync.RWMutex
	clients map[string]*model.Client
}

func NewClientPool(clients map[string]*model.Client) *ClientPool {
	pool := &ClientPool{
		clients: make(map[string]*model.Client),
	}
	for id, client := range clients {
		pool.clients[id] = client
	}

	return pool
}

func NewClientPoolFromFile(filePath string) (*ClientPool, error) {
	clients, err := common.ReadClientPoolFile(filePath)
	if err != nil {
		return nil, err
	}

	return NewClientPool(clients), nil
}

// Clients returns the pool sorted by client id, so selection over the pool
// is deterministic under a fixed seed.
func (pool *ClientPool) Clients() []*model.Client {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	clients := make([]*model.Client, 0, len(pool.clients))
	for _, client := range pool.clients {
		clients = append(clients, client)
	}
	common.SortClients(clients)

	return clients
}

func (pool *ClientPool) Size() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	return len(pool.clients)
}

func (pool *ClientPool) Add(client *model.Client) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	pool.clients[client.Id] = client
}

func (pool *ClientPool) Remove(clientId string) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	delete(pool.clients, clientId)
}

func (pool *ClientPool) snapshot() map[string]*model.Client {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	clients := make(map[string]*model.Client, len(pool.clients))
	for id, client := range pool.clients {
		clients[id] = client
	}

	return clients
}
