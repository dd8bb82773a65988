package gdvlhttp

import "fmt"

// ByteRange is an inclusive span [Start, End].
type ByteRange struct {
	Start int64 `yaml:"start"`
	End   int64 `yaml:"end"`
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// PlanRanges partitions [0, totalSize) into at most workers contiguous
// ranges ordered by Start. The last range absorbs the division remainder
// and empty ranges are dropped, so fewer ranges than workers may come back.
func PlanRanges(totalSize int64, workers int) []ByteRange {
	if totalSize <= 0 {
		return nil
	}
	workers = max(workers, 1)
	partSize := totalSize / int64(workers)
	ranges := make([]ByteRange, 0, workers)
	for i := range workers {
		start := int64(i) * partSize
		end := start + partSize - 1
		if i == workers-1 {
			end = totalSize - 1
		}
		if end < start {
			continue
		}
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}
	return ranges
}
