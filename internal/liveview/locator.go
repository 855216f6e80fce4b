package liveview

import (
	"sort"

	"livesync/internal/storage"
	"livesync/pkg/model"
)

// Locate returns the index at which doc is inserted into ordered, a slice
// already sorted by orders. Ties go after the existing equal elements.
func Locate(doc model.Document, ordered []model.Document, orders []model.Order) int {
	return sort.Search(len(ordered), func(i int) bool {
		return storage.CompareDocuments(ordered[i], doc, orders) > 0
	})
}
