package repository

import (
	"sort"

	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// SortBatchesFIFO orders batches by expiry, undated last, then by receipt time.
func SortBatchesFIFO(batches []*entity.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.Expiry == nil && b.Expiry != nil:
			return false
		case a.Expiry != nil && b.Expiry == nil:
			return true
		case a.Expiry != nil && b.Expiry != nil && !a.Expiry.Equal(*b.Expiry):
			return a.Expiry.Before(*b.Expiry)
		}
		return a.ReceivedAt.Before(b.ReceivedAt)
	})
}
