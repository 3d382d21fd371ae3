package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// LsnSize is the width of a SQL Server log sequence number.
const LsnSize = 10

// Lsn is a SQL Server log sequence number: VLF sequence (4 bytes), log block
// offset (4 bytes) and slot number (2 bytes), compared byte-wise.
type Lsn [LsnSize]byte

// NoLsn marks an absent LSN. It sorts before every available LSN.
var NoLsn Lsn

// MaxLsn sorts after every LSN SQL Server hands out.
var MaxLsn = Lsn{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// LsnFromBytes converts the binary(10) value returned by the driver.
func LsnFromBytes(raw []byte) (Lsn, error) {
	var lsn Lsn
	if len(raw) == 0 {
		return NoLsn, nil
	}
	if len(raw) != LsnSize {
		return NoLsn, fmt.Errorf("invalid LSN length %d, expected %d bytes", len(raw), LsnSize)
	}
	copy(lsn[:], raw)
	return lsn, nil
}

// ParseLsn accepts the colon form (00000027:00000758:0005), the bare 20 char
// hex form with or without a 0x prefix, and NULL or empty for NoLsn.
func ParseLsn(value string) (Lsn, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "NULL") {
		return NoLsn, nil
	}

	raw := value
	if strings.Contains(value, ":") {
		parts := strings.Split(value, ":")
		if len(parts) != 3 || len(parts[0]) != 8 || len(parts[1]) != 8 || len(parts[2]) != 4 {
			return NoLsn, fmt.Errorf("invalid LSN format: %s", value)
		}
		raw = strings.Join(parts, "")
	} else if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
	}

	if len(raw) != LsnSize*2 {
		return NoLsn, fmt.Errorf("invalid LSN length: %s", value)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return NoLsn, fmt.Errorf("invalid LSN hex %s: %s", value, err)
	}
	return LsnFromBytes(decoded)
}

// IsAvailable reports whether the LSN holds a value.
func (l Lsn) IsAvailable() bool {
	return l != NoLsn
}

// Compare returns -1, 0 or 1.
func (l Lsn) Compare(other Lsn) int {
	return bytes.Compare(l[:], other[:])
}

// Bytes returns the binary(10) form for query parameters.
func (l Lsn) Bytes() []byte {
	out := make([]byte, LsnSize)
	copy(out, l[:])
	return out
}

// Hex returns the lowercase 20 char hex form.
func (l Lsn) Hex() string {
	return hex.EncodeToString(l[:])
}

func (l Lsn) String() string {
	if !l.IsAvailable() {
		return "NULL"
	}
	h := l.Hex()
	return fmt.Sprintf("%s:%s:%s", h[0:8], h[8:16], h[16:20])
}
