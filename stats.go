package submem

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/submem/memutils"
)

// Statistics holds detailed statistics for every memory type and heap, plus a total across the device
type Statistics struct {
	MemoryTypes []memutils.DetailedStatistics
	MemoryHeaps []memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

// CalculateStatistics walks every block of every memory type and fills stats. This is a slow
// operation and should not be called every frame.
func (m *Manager) CalculateStatistics(stats *Statistics) error {
	if m.destroyed {
		return ErrManagerDestroyed
	}

	typeCount := m.deviceMemory.MemoryTypeCount()
	heapCount := m.deviceMemory.MemoryHeapCount()

	stats.MemoryTypes = make([]memutils.DetailedStatistics, typeCount)
	stats.MemoryHeaps = make([]memutils.DetailedStatistics, heapCount)
	stats.Total.Clear()
	for i := range stats.MemoryTypes {
		stats.MemoryTypes[i].Clear()
	}
	for i := range stats.MemoryHeaps {
		stats.MemoryHeaps[i].Clear()
	}

	for memoryTypeIndex, chain := range m.chains {
		if chain == nil {
			continue
		}

		chain.AddDetailedStatistics(&stats.MemoryTypes[memoryTypeIndex])
	}

	for memoryTypeIndex := range stats.MemoryTypes {
		heapIndex := m.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
		stats.MemoryHeaps[heapIndex].AddDetailedStatistics(&stats.MemoryTypes[memoryTypeIndex])
	}

	for heapIndex := range stats.MemoryHeaps {
		stats.Total.AddDetailedStatistics(&stats.MemoryHeaps[heapIndex])
	}

	return nil
}

// HeapStatistics returns the current block and allocation totals for every memory heap. Unlike
// CalculateStatistics, it does not walk any blocks.
func (m *Manager) HeapStatistics() []memutils.Statistics {
	stats := make([]memutils.Statistics, m.deviceMemory.MemoryHeapCount())
	m.deviceMemory.HeapStatistics(0, stats)
	return stats
}

// HeapSize returns the size in bytes of a memory heap, as reported by the device
func (m *Manager) HeapSize(heapIndex int) int {
	return m.deviceMemory.MemoryHeapProperties(heapIndex).Size
}

// HeapLimit returns the configured byte limit for a memory heap, or 0 if the heap is unlimited
func (m *Manager) HeapLimit(heapIndex int) int {
	return m.deviceMemory.HeapLimit(heapIndex)
}

// MemoryTypeCount returns the number of memory types the device exposes
func (m *Manager) MemoryTypeCount() int {
	return m.deviceMemory.MemoryTypeCount()
}

// BuildStatsString produces a JSON document describing the Manager's memory usage. When
// detailedMap is true, every block and every resource and free range within it is included.
func (m *Manager) BuildStatsString(detailedMap bool) (string, error) {
	var stats Statistics
	err := m.CalculateStatistics(&stats)
	if err != nil {
		return "", err
	}

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	totalObj := rootObj.Name("Total").Object()
	stats.Total.WriteJson(&totalObj)
	totalObj.End()

	heapsObj := rootObj.Name("MemoryHeaps").Object()
	for heapIndex := range stats.MemoryHeaps {
		heapObj := heapsObj.Name("Heap " + strconv.Itoa(heapIndex)).Object()

		heap := m.deviceMemory.MemoryHeapProperties(heapIndex)
		heapObj.Name("Size").Int(heap.Size)
		heapObj.Name("Flags").String(heap.Flags.String())
		heapObj.Name("Limit").Int(m.deviceMemory.HeapLimit(heapIndex))

		statsObj := heapObj.Name("Stats").Object()
		stats.MemoryHeaps[heapIndex].WriteJson(&statsObj)
		statsObj.End()

		typesObj := heapObj.Name("MemoryTypes").Object()
		for memoryTypeIndex := range stats.MemoryTypes {
			if m.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex) != heapIndex {
				continue
			}

			typeObj := typesObj.Name("Type " + strconv.Itoa(memoryTypeIndex)).Object()
			typeObj.Name("Flags").String(m.deviceMemory.MemoryTypeProperties(memoryTypeIndex).PropertyFlags.String())

			typeStatsObj := typeObj.Name("Stats").Object()
			stats.MemoryTypes[memoryTypeIndex].WriteJson(&typeStatsObj)
			typeStatsObj.End()

			typeObj.End()
		}
		typesObj.End()

		heapObj.End()
	}
	heapsObj.End()

	if detailedMap {
		mapObj := rootObj.Name("DetailedMap").Object()
		for memoryTypeIndex, chain := range m.chains {
			if chain == nil || chain.BlockCount() == 0 {
				continue
			}

			typeObj := mapObj.Name("Type " + strconv.Itoa(memoryTypeIndex)).Object()
			chain.PrintDetailedMap(&typeObj)
			typeObj.End()
		}
		mapObj.End()
	}

	rootObj.End()

	err = writer.Error()
	if err != nil {
		return "", errors.Wrap(err, "writing statistics")
	}

	return string(writer.Bytes()), nil
}

// Validate checks every block of every memory type for internal consistency. It is intended for tests
// and debugging.
func (m *Manager) Validate() error {
	if m.destroyed {
		return ErrManagerDestroyed
	}

	for _, chain := range m.chains {
		if chain == nil {
			continue
		}

		err := chain.Validate()
		if err != nil {
			return err
		}
	}

	return nil
}
