package offsets

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

// MemoryStore keeps offsets in process memory. Values go through the same
// encoding as the pebble store.
type MemoryStore struct {
	values *xsync.MapOf[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: xsync.NewMapOf[string, []byte]()}
}

func (s *MemoryStore) LoadOffset(_ context.Context) (*types.Offset, error) {
	data, ok := s.values.Load(offsetKey)
	if !ok {
		return nil, nil
	}
	return decodeOffset(data)
}

func (s *MemoryStore) SaveOffset(_ context.Context, offset types.Offset) error {
	data, err := encodeOffset(offset)
	if err != nil {
		return err
	}
	s.values.Store(offsetKey, data)
	return nil
}

func (s *MemoryStore) LoadProgress(_ context.Context) (*types.IncrementalProgress, error) {
	data, ok := s.values.Load(progressKey)
	if !ok {
		return nil, nil
	}
	return decodeProgress(data)
}

func (s *MemoryStore) SaveProgress(_ context.Context, progress types.IncrementalProgress) error {
	data, err := encodeProgress(progress)
	if err != nil {
		return err
	}
	s.values.Store(progressKey, data)
	return nil
}

func (s *MemoryStore) ClearProgress(_ context.Context) error {
	s.values.Delete(progressKey)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
