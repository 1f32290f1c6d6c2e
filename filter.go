package retrago

import (
	"errors"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/retrago/retrago/idmap"
	"github.com/retrago/retrago/snapshot"
)

// Filter restricts a query to a subset of matrix rows. Filters are resolved
// against the snapshot before the scan and combined by intersection, so a row
// must satisfy every filter to be scored.
type Filter func(snap *snapshot.Snapshot) (*roaring.Bitmap, error)

// FilterItems keeps only chunks belonging to the given item ids.
func FilterItems(itemIDs ...string) Filter {
	return func(snap *snapshot.Snapshot) (*roaring.Bitmap, error) {
		want := make(map[string]struct{}, len(itemIDs))
		for _, id := range itemIDs {
			want[id] = struct{}{}
		}
		bm := roaring.New()
		for row, rec := range snap.Chunks().Iterate() {
			if _, ok := want[rec.ItemID]; ok {
				bm.Add(row)
			}
		}
		return bm, nil
	}
}

// FilterSourcePrefix keeps only chunks whose source URI starts with prefix.
func FilterSourcePrefix(prefix string) Filter {
	return func(snap *snapshot.Snapshot) (*roaring.Bitmap, error) {
		bm := roaring.New()
		for row, rec := range snap.Chunks().Iterate() {
			if strings.HasPrefix(rec.SourceURI, prefix) {
				bm.Add(row)
			}
		}
		return bm, nil
	}
}

// FilterChunks keeps only the given chunk ids. Unknown ids simply match
// nothing.
func FilterChunks(chunkIDs ...string) Filter {
	return func(snap *snapshot.Snapshot) (*roaring.Bitmap, error) {
		bm := roaring.New()
		for _, id := range chunkIDs {
			row, err := snap.Mapping().RowOf(id)
			if err != nil {
				var unknown *idmap.ErrUnknownChunkID
				if errors.As(err, &unknown) {
					continue
				}
				return nil, err
			}
			bm.Add(row)
		}
		return bm, nil
	}
}

// resolveFilters intersects all filter bitmaps. A nil result means no
// filtering; a present result may be empty, which matches no rows.
func resolveFilters(snap *snapshot.Snapshot, filters []Filter) (*roaring.Bitmap, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	var acc *roaring.Bitmap
	for _, f := range filters {
		bm, err := f(snap)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = bm
			continue
		}
		acc.And(bm)
	}
	return acc, nil
}
