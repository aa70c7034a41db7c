package metadata

import "math"

// BlockAllocationHandle identifies a live suballocation within a single block
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}

// End is the first byte past the suballocation
func (s *Suballocation) End() int {
	return s.Offset + s.Size
}
