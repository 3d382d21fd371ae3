package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Position marks how far the change log has been consumed. Ordering is by
// commit LSN, then change LSN, then event serial within the change. The zero
// value is NoPosition and the struct is comparable, so it can key a map.
type Position struct {
	Commit      Lsn
	Change      Lsn
	EventSerial int64
}

// NoPosition means no prior position exists.
var NoPosition Position

const positionSeparator = ","

func NewPosition(commit, change Lsn, eventSerial int64) Position {
	return Position{Commit: commit, Change: change, EventSerial: eventSerial}
}

// CommitPosition marks the transaction committed at commit as fully consumed.
// It sorts after every change of that transaction, so watermarks and
// checkpoints taken at a commit LSN include the whole commit.
func CommitPosition(commit Lsn) Position {
	if !commit.IsAvailable() {
		return NoPosition
	}
	return Position{Commit: commit, Change: MaxLsn, EventSerial: math.MaxInt64}
}

// IsCommitEnd reports whether p is the CommitPosition of its commit.
func (p Position) IsCommitEnd() bool {
	return !p.IsNone() && p == CommitPosition(p.Commit)
}

func (p Position) IsNone() bool {
	return p == NoPosition
}

// Compare returns -1 if p < other, 0 if equal and 1 if p > other.
func (p Position) Compare(other Position) int {
	if c := p.Commit.Compare(other.Commit); c != 0 {
		return c
	}
	if c := p.Change.Compare(other.Change); c != 0 {
		return c
	}
	switch {
	case p.EventSerial < other.EventSerial:
		return -1
	case p.EventSerial > other.EventSerial:
		return 1
	default:
		return 0
	}
}

func ComparePositions(a, b Position) int {
	return a.Compare(b)
}

func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// MaxPosition returns the later of the two positions.
func MaxPosition(a, b Position) Position {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// Encode returns the persisted form "commit,change,serial"; NoPosition encodes
// to the empty string.
func (p Position) Encode() string {
	if p.IsNone() {
		return ""
	}
	return strings.Join([]string{p.Commit.String(), p.Change.String(), strconv.FormatInt(p.EventSerial, 10)}, positionSeparator)
}

// DecodePosition parses the output of Encode.
func DecodePosition(value string) (Position, error) {
	if strings.TrimSpace(value) == "" {
		return NoPosition, nil
	}

	parts := strings.Split(value, positionSeparator)
	if len(parts) != 3 {
		return NoPosition, &MalformedPositionError{Value: value, Reason: fmt.Sprintf("expected 3 components, found %d", len(parts))}
	}

	commit, err := ParseLsn(parts[0])
	if err != nil {
		return NoPosition, &MalformedPositionError{Value: value, Reason: fmt.Sprintf("commit lsn: %s", err)}
	}
	change, err := ParseLsn(parts[1])
	if err != nil {
		return NoPosition, &MalformedPositionError{Value: value, Reason: fmt.Sprintf("change lsn: %s", err)}
	}
	serial, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil || serial < 0 {
		return NoPosition, &MalformedPositionError{Value: value, Reason: fmt.Sprintf("invalid event serial %q", parts[2])}
	}

	return NewPosition(commit, change, serial), nil
}

func (p Position) String() string {
	if p.IsNone() {
		return "NONE"
	}
	return p.Encode()
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.Encode()), nil
}

func (p *Position) UnmarshalText(text []byte) error {
	decoded, err := DecodePosition(string(text))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// MalformedPositionError is returned when a persisted position cannot be parsed.
// A connector cannot resume safely past it.
type MalformedPositionError struct {
	Value  string
	Reason string
}

func (e *MalformedPositionError) Error() string {
	return fmt.Sprintf("malformed position %q: %s", e.Value, e.Reason)
}
