package types

import (
	"fmt"
	"strings"
)

type SnapshotMode string

const (
	SnapshotAlways             SnapshotMode = "always"
	SnapshotInitial            SnapshotMode = "initial"
	SnapshotInitialOnly        SnapshotMode = "initial_only"
	SnapshotNoData             SnapshotMode = "no_data"
	SnapshotRecovery           SnapshotMode = "recovery"
	SnapshotWhenNeeded         SnapshotMode = "when_needed"
	SnapshotConfigurationBased SnapshotMode = "configuration_based"
	SnapshotCustom             SnapshotMode = "custom"
)

var SnapshotModes = []SnapshotMode{
	SnapshotAlways, SnapshotInitial, SnapshotInitialOnly, SnapshotNoData,
	SnapshotRecovery, SnapshotWhenNeeded, SnapshotConfigurationBased, SnapshotCustom,
}

type SnapshotIsolationMode string

const (
	IsolationExclusive       SnapshotIsolationMode = "exclusive"
	IsolationSnapshot        SnapshotIsolationMode = "snapshot"
	IsolationRepeatableRead  SnapshotIsolationMode = "repeatable_read"
	IsolationReadCommitted   SnapshotIsolationMode = "read_committed"
	IsolationReadUncommitted SnapshotIsolationMode = "read_uncommitted"
)

var SnapshotIsolationModes = []SnapshotIsolationMode{
	IsolationExclusive, IsolationSnapshot, IsolationRepeatableRead, IsolationReadCommitted, IsolationReadUncommitted,
}

type SnapshotLockingMode string

const (
	LockingExclusive SnapshotLockingMode = "exclusive"
	LockingNone      SnapshotLockingMode = "none"
	LockingCustom    SnapshotLockingMode = "custom"
)

var SnapshotLockingModes = []SnapshotLockingMode{LockingExclusive, LockingNone, LockingCustom}

type DataQueryMode string

const (
	QueryFunction DataQueryMode = "function"
	QueryDirect   DataQueryMode = "direct"
)

var DataQueryModes = []DataQueryMode{QueryFunction, QueryDirect}

const (
	DefaultSnapshotMode          = SnapshotInitial
	DefaultSnapshotIsolationMode = IsolationRepeatableRead
	DefaultSnapshotLockingMode   = LockingExclusive
	DefaultDataQueryMode         = QueryFunction
)

// modeValue is satisfied by every closed mode type above.
type modeValue interface {
	~string
}

// parseMode matches value against the known variants case-insensitively after
// trimming. Blank values resolve to def; a non blank value that matches no
// variant is an InvalidConfigValueError.
func parseMode[T modeValue](option, value string, def T, variants []T) (T, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	for _, variant := range variants {
		if strings.EqualFold(string(variant), trimmed) {
			return variant, nil
		}
	}
	var zero T
	return zero, &InvalidConfigValueError{Option: option, Value: value, Allowed: variantNames(variants)}
}

func variantNames[T modeValue](variants []T) []string {
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = string(v)
	}
	return names
}

func ParseSnapshotMode(option, value string) (SnapshotMode, error) {
	return parseMode(option, value, DefaultSnapshotMode, SnapshotModes)
}

func ParseSnapshotIsolationMode(option, value string) (SnapshotIsolationMode, error) {
	return parseMode(option, value, DefaultSnapshotIsolationMode, SnapshotIsolationModes)
}

func ParseSnapshotLockingMode(option, value string) (SnapshotLockingMode, error) {
	return parseMode(option, value, DefaultSnapshotLockingMode, SnapshotLockingModes)
}

func ParseDataQueryMode(option, value string) (DataQueryMode, error) {
	return parseMode(option, value, DefaultDataQueryMode, DataQueryModes)
}

// InvalidConfigValueError names the option whose value matched no variant.
type InvalidConfigValueError struct {
	Option  string
	Value   string
	Allowed []string
}

func (e *InvalidConfigValueError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid value %q for option '%s'", e.Value, e.Option)
	}
	return fmt.Sprintf("invalid value %q for option '%s', expected one of [%s]", e.Value, e.Option, strings.Join(e.Allowed, ", "))
}
