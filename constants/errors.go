package constants

import "errors"

var (
	ErrPositionRegression = errors.New("change stream position moved backwards")
	ErrSnapshotRunning    = errors.New("an incremental snapshot is already running")
	ErrNoSchemaHistory    = errors.New("no schema history record at or before position")
	ErrNoOffset           = errors.New("no committed offset found")
	ErrSnapshotStopped    = errors.New("incremental snapshot stopped")
)
