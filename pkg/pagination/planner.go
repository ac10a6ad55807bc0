package pagination

import (
	"fmt"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
)

// Batch is a contiguous slice of the sorted identifier set.
type Batch struct {
	Index int
	IDs   []int64
}

// PlanBatches splits ids into ceil(len/pageSize) batches in order.
// Batches share ids' backing array and must be treated as read-only.
func PlanBatches(ids arcgis.IdentifierSet, pageSize int) ([]Batch, error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, pageSize)
	}

	batches := make([]Batch, 0, (len(ids)+pageSize-1)/pageSize)
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		batches = append(batches, Batch{
			Index: len(batches),
			IDs:   ids[start:end:end],
		})
	}
	return batches, nil
}
