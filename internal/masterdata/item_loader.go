package masterdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// ItemLoader batches item master lookups for one organization. Create one per upload so
// the cache never outlives the request that filled it.
type ItemLoader struct {
	Loader *dataloader.Loader
}

// NewItemLoader builds a loader over the item repository.
func NewItemLoader(repo repository.ItemRepository, organizationID uuid.UUID) *ItemLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		codes := keys.Keys()

		items, err := repo.GetByCodes(ctx, organizationID, codes)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("load items: %w", err)}
			}
			return results
		}

		byCode := make(map[string]domain.Item, len(items))
		for _, item := range items {
			byCode[domain.NormalizeItemCode(item.Code)] = item
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, code := range codes {
			if item, ok := byCode[code]; ok {
				results[i] = &dataloader.Result{Data: item}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &ItemLoader{Loader: loader}
}

// Items resolves every code, returning only those present in master data.
func (l *ItemLoader) Items(ctx context.Context, codes []string) (map[string]domain.Item, error) {
	unique := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = domain.NormalizeItemCode(code)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		unique = append(unique, code)
	}
	sort.Strings(unique)

	thunks := make([]dataloader.Thunk, len(unique))
	for i, code := range unique {
		thunks[i] = l.Loader.Load(ctx, dataloader.StringKey(code))
	}

	found := make(map[string]domain.Item, len(unique))
	for i, thunk := range thunks {
		data, err := thunk()
		if err != nil {
			return nil, err
		}
		if item, ok := data.(domain.Item); ok {
			found[unique[i]] = item
		}
	}
	return found, nil
}
