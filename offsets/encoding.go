package offsets

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/types"
)

const (
	offsetKey   = "offset"
	progressKey = "incremental_progress"
)

// offsetRecord is the stored layout of an offset. The position is kept in its
// encoded text form so it survives any codec.
type offsetRecord struct {
	Version           int       `msgpack:"version"`
	Position          string    `msgpack:"position"`
	SnapshotCompleted bool      `msgpack:"snapshot_completed"`
	UpdatedAt         time.Time `msgpack:"updated_at"`
}

type progressRecord struct {
	Version       int      `msgpack:"version"`
	RunID         string   `msgpack:"run_id"`
	CurrentTable  string   `msgpack:"current_table"`
	LastBoundary  []any    `msgpack:"last_boundary"`
	PendingTables []string `msgpack:"pending_tables"`
	ChunkSize     int      `msgpack:"chunk_size"`
	Paused        bool     `msgpack:"paused"`
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshal keeps binary key values as []byte, loose decoding would turn them
// into strings.
func unmarshal(data []byte, v any) error {
	return msgpack.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func encodeOffset(offset types.Offset) ([]byte, error) {
	return marshal(offsetRecord{
		Version:           constants.LatestOffsetVersion,
		Position:          offset.Position.Encode(),
		SnapshotCompleted: offset.SnapshotCompleted,
		UpdatedAt:         offset.UpdatedAt,
	})
}

func decodeOffset(data []byte) (*types.Offset, error) {
	var record offsetRecord
	if err := unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode offset: %s", err)
	}
	if record.Version > constants.LatestOffsetVersion {
		return nil, fmt.Errorf("offset version %d is newer than supported version %d", record.Version, constants.LatestOffsetVersion)
	}
	position, err := types.DecodePosition(record.Position)
	if err != nil {
		return nil, err
	}
	return &types.Offset{
		Position:          position,
		SnapshotCompleted: record.SnapshotCompleted,
		UpdatedAt:         record.UpdatedAt,
	}, nil
}

func encodeProgress(progress types.IncrementalProgress) ([]byte, error) {
	return marshal(progressRecord{
		Version:       constants.LatestOffsetVersion,
		RunID:         progress.RunID,
		CurrentTable:  progress.CurrentTable,
		LastBoundary:  progress.LastBoundary,
		PendingTables: progress.PendingTables,
		ChunkSize:     progress.ChunkSize,
		Paused:        progress.Paused,
	})
}

func decodeProgress(data []byte) (*types.IncrementalProgress, error) {
	var record progressRecord
	if err := unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode incremental snapshot progress: %s", err)
	}
	return &types.IncrementalProgress{
		RunID:         record.RunID,
		CurrentTable:  record.CurrentTable,
		LastBoundary:  record.LastBoundary,
		PendingTables: record.PendingTables,
		ChunkSize:     record.ChunkSize,
		Paused:        record.Paused,
	}, nil
}
