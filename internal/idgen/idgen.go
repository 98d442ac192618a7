package idgen

import (
	"strconv"
	"sync"
	"time"
)

// Generator issues ids that are unique across nodes and strictly increasing
// within one process.
type Generator interface {
	NextID() int64
	NextString() string
}

const (
	nodeBits     = 10
	sequenceBits = 12
	maxNode      = -1 ^ (-1 << nodeBits)
	maxSequence  = -1 ^ (-1 << sequenceBits)
	timeShift    = nodeBits + sequenceBits
	nodeShift    = sequenceBits
)

// Epoch is 2024-01-01T00:00:00Z in milliseconds.
const Epoch int64 = 1704067200000

// Snowflake lays out 41 bits of milliseconds since Epoch, 10 bits of node id
// and a 12 bit per-millisecond sequence.
type Snowflake struct {
	mu       sync.Mutex
	node     int64
	lastMs   int64
	sequence int64
	now      func() time.Time
}

func NewSnowflake(node int64) *Snowflake {
	return &Snowflake{node: node & maxNode, now: time.Now}
}

func (s *Snowflake) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli() - Epoch
	if ms < s.lastMs {
		// clock moved backwards: keep issuing from the last millisecond
		ms = s.lastMs
	}
	if ms == s.lastMs {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for ms <= s.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = s.now().UnixMilli() - Epoch
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms
	return ms<<timeShift | s.node<<nodeShift | s.sequence
}

func (s *Snowflake) NextString() string {
	return strconv.FormatInt(s.NextID(), 10)
}
