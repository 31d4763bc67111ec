package depositor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type memoryRepository struct {
	mu         sync.RWMutex
	depositors map[common.Address]Depositor
	byID       map[string]common.Address
}

// NewMemoryRepository builds an in-memory depositor store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		depositors: make(map[common.Address]Depositor),
		byID:       make(map[string]common.Address),
	}
}

func (r *memoryRepository) Create(_ context.Context, d Depositor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.depositors[d.Address]; exists {
		return ErrDepositorExists
	}
	r.depositors[d.Address] = d
	r.byID[d.ID] = d.Address
	return nil
}

func (r *memoryRepository) FindByAddress(_ context.Context, address common.Address) (Depositor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.depositors[address]
	if !ok {
		return Depositor{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Depositor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	address, ok := r.byID[id]
	if !ok {
		return Depositor{}, ErrNotFound
	}
	return r.depositors[address], nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	return r.mutate(id, func(d *Depositor) { d.TokenVersion = version })
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(d *Depositor) { d.LastLogin = at.UTC() })
}

func (r *memoryRepository) mutate(id string, fn func(*Depositor)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	address, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	d := r.depositors[address]
	fn(&d)
	r.depositors[address] = d
	return nil
}
