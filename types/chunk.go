package types

import "fmt"

type ChunkState string

const (
	ChunkPending     ChunkState = "PENDING"
	ChunkScanning    ChunkState = "SCANNING"
	ChunkReconciling ChunkState = "RECONCILING"
	ChunkDone        ChunkState = "DONE"
)

var chunkStateOrder = map[ChunkState]int{
	ChunkPending:     0,
	ChunkScanning:    1,
	ChunkReconciling: 2,
	ChunkDone:        3,
}

// Chunk is one primary key range [Low, High) of an incremental snapshot.
// A nil Low starts at the beginning of the table and a nil High runs to its end.
type Chunk struct {
	Table         string     `json:"table"`
	Low           []any      `json:"low,omitempty"`
	High          []any      `json:"high,omitempty"`
	LowWatermark  Position   `json:"low_watermark"`
	HighWatermark Position   `json:"high_watermark"`
	State         ChunkState `json:"state"`
}

func NewChunk(table string, low, high []any) *Chunk {
	return &Chunk{Table: table, Low: low, High: high, State: ChunkPending}
}

// IsLast reports whether the chunk runs to the end of the table.
func (c *Chunk) IsLast() bool {
	return c.High == nil
}

func (c *Chunk) transition(to ChunkState) error {
	if chunkStateOrder[to] != chunkStateOrder[c.State]+1 {
		return fmt.Errorf("invalid chunk transition %s -> %s for table %s", c.State, to, c.Table)
	}
	c.State = to
	return nil
}

// StartScan records the low watermark and moves PENDING -> SCANNING.
func (c *Chunk) StartScan(low Position) error {
	if err := c.transition(ChunkScanning); err != nil {
		return err
	}
	c.LowWatermark = low
	return nil
}

// FinishScan records the high watermark and moves SCANNING -> RECONCILING.
func (c *Chunk) FinishScan(high Position) error {
	if high.Before(c.LowWatermark) {
		return fmt.Errorf("high watermark %s is before low watermark %s for table %s", high, c.LowWatermark, c.Table)
	}
	if err := c.transition(ChunkReconciling); err != nil {
		return err
	}
	c.HighWatermark = high
	return nil
}

// Complete moves RECONCILING -> DONE.
func (c *Chunk) Complete() error {
	return c.transition(ChunkDone)
}

// Reset puts a chunk back to PENDING so it can be read again.
func (c *Chunk) Reset() {
	c.State = ChunkPending
	c.LowWatermark = NoPosition
	c.HighWatermark = NoPosition
}

// InWindow reports whether a live event at pos overlaps the chunk's
// watermark window (low, high].
func (c *Chunk) InWindow(pos Position) bool {
	return pos.After(c.LowWatermark) && !pos.After(c.HighWatermark)
}
