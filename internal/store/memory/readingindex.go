package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// ReadingIndex is an in-memory implementation of store.ReadingIndex.
type ReadingIndex struct {
	mu     sync.Mutex
	latest map[string]models.Reading
}

// NewReadingIndex creates an empty index.
func NewReadingIndex() *ReadingIndex {
	return &ReadingIndex{latest: make(map[string]models.Reading)}
}

// Get returns the latest reading for an account.
func (i *ReadingIndex) Get(ctx context.Context, accountID string) (*models.Reading, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	r, ok := i.latest[accountID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// CompareAndSet replaces the latest reading if it still matches expected.
func (i *ReadingIndex) CompareAndSet(ctx context.Context, accountID string, expected *models.Reading, next models.Reading) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var current *models.Reading
	if r, ok := i.latest[accountID]; ok {
		current = &r
	}
	if !store.SameReading(current, expected) {
		return fmt.Errorf("%w: latest reading of account %s changed", models.ErrConflict, accountID)
	}
	i.latest[accountID] = next
	return nil
}

// Ensure interface compliance.
var _ store.ReadingIndex = (*ReadingIndex)(nil)
