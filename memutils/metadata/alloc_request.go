package metadata

// AllocationRequestType is an enum that indicates where in the block an allocation request will be placed.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestGap indicates that the allocation request fills a free region that sits
	// before an existing suballocation
	AllocationRequestGap AllocationRequestType = iota
	// AllocationRequestTail indicates that the allocation request sits after the last suballocation
	// in the block
	AllocationRequestTail
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestGap:  "Gap",
	AllocationRequestTail: "Tail",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where the
// metadata intends to allocate new memory. This allocation can be applied to the actual memory system consuming
// memutils, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Size the total size of the allocation, maybe larger than what was originally requested
	Size int
	// Item is a Suballocation object indicating basic information about the allocation
	Item Suballocation
	// Type identifies the sort of free region this request was placed in
	Type AllocationRequestType
}
