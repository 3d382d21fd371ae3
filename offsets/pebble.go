package offsets

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// pebbleLogger routes pebble logs through the connector logger
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...any) {
	logger.Debugf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	logger.Errorf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	logger.Fatalf("[pebble] "+format, args...)
}

// PebbleStore keeps offsets in a local pebble database. Every write is synced.
type PebbleStore struct {
	db   *pebble.DB
	path string
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Logger: &pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open offset store at %s: %s", path, err)
	}
	logger.Infof("opened offset store at %s", path)
	return &PebbleStore{db: db, path: path}, nil
}

func (s *PebbleStore) get(key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleStore) LoadOffset(_ context.Context) (*types.Offset, error) {
	data, err := s.get(offsetKey)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeOffset(data)
}

func (s *PebbleStore) SaveOffset(_ context.Context, offset types.Offset) error {
	data, err := encodeOffset(offset)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(offsetKey), data, pebble.Sync)
}

func (s *PebbleStore) LoadProgress(_ context.Context) (*types.IncrementalProgress, error) {
	data, err := s.get(progressKey)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeProgress(data)
}

func (s *PebbleStore) SaveProgress(_ context.Context, progress types.IncrementalProgress) error {
	data, err := encodeProgress(progress)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(progressKey), data, pebble.Sync)
}

func (s *PebbleStore) ClearProgress(_ context.Context) error {
	return s.db.Delete([]byte(progressKey), pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
