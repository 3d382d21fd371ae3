package types

import (
	"fmt"
	"strings"

	"github.com/mitchellh/hashstructure"
)

// TableID identifies a captured table as schema.table.
type TableID struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func ParseTableID(value string) (TableID, error) {
	parts := strings.Split(strings.TrimSpace(value), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TableID{}, fmt.Errorf("invalid table identifier %q, expected schema.table", value)
	}
	return TableID{Schema: parts[0], Table: parts[1]}, nil
}

func (t TableID) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Table)
}

type Column struct {
	Name     string   `json:"name"`
	Type     DataType `json:"type"`
	Nullable bool     `json:"nullable"`
}

// TableSchema is the column layout of a table as of some position.
type TableSchema struct {
	Table      string   `json:"table"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
}

// Fingerprint hashes the schema so two layouts can be compared cheaply.
func (s TableSchema) Fingerprint() (uint64, error) {
	return hashstructure.Hash(s, nil)
}

// SameAs reports whether both schemas describe the same layout.
func (s TableSchema) SameAs(other TableSchema) bool {
	a, errA := s.Fingerprint()
	b, errB := other.Fingerprint()
	return errA == nil && errB == nil && a == b
}

func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// KeyOf extracts the primary key values of a row in key column order.
func (s TableSchema) KeyOf(row Record) ([]any, error) {
	if len(s.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key", s.Table)
	}
	key := make([]any, len(s.PrimaryKey))
	for i, col := range s.PrimaryKey {
		val, ok := row[col]
		if !ok {
			return nil, fmt.Errorf("primary key column %s missing from row of table %s", col, s.Table)
		}
		key[i] = val
	}
	return key, nil
}
