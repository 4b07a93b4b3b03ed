package datastore

import (
	"context"
	"sync"
	"time"

	"github.com/attachkit/attachkit/internal/model"
)

// Memory is an in-process Datastore guarded by an RWMutex. It backs tests
// and embedded use where no external database exists.
type Memory struct {
	mu     sync.RWMutex
	rows   map[int64]*model.Attachment
	nextID int64
}

// NewMemory constructs an empty in-memory datastore.
func NewMemory() *Memory {
	return &Memory{rows: make(map[int64]*model.Attachment)}
}

func (m *Memory) Commit(ctx context.Context, a *model.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	clone := *a
	m.rows[a.ID] = &clone
	return nil
}

func (m *Memory) Get(ctx context.Context, id int64) (*model.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *Memory) FindOrCreateChild(ctx context.Context, parentID int64, label string) (*model.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.ParentID == parentID && row.ThumbnailLabel == label {
			clone := *row
			return &clone, nil
		}
	}
	return &model.Attachment{
		ParentID:       parentID,
		ThumbnailLabel: label,
		State:          model.StateNew,
	}, nil
}

func (m *Memory) Children(ctx context.Context, parentID int64) ([]*model.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var children []*model.Attachment
	for _, row := range m.rows {
		if row.ParentID == parentID {
			clone := *row
			children = append(children, &clone)
		}
	}
	return children, nil
}

func (m *Memory) DeleteRow(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

// Len reports the number of stored rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
