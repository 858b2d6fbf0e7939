package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/logger"
)

// InventoryResolver enumerates a user's data across all registered
// external data domains.
type InventoryResolver struct {
	domains map[string]DataDomain
}

func NewInventoryResolver(domains ...DataDomain) *InventoryResolver {
	r := &InventoryResolver{domains: make(map[string]DataDomain, len(domains))}
	for _, d := range domains {
		r.domains[d.Key()] = d
	}
	return r
}

func (r *InventoryResolver) Register(d DataDomain) {
	r.domains[d.Key()] = d
}

func (r *InventoryResolver) Domain(key string) (DataDomain, bool) {
	d, ok := r.domains[key]
	return d, ok
}

// Keys returns the registered category keys in the same deterministic
// order Inventory uses.
func (r *InventoryResolver) Keys() []string {
	keys := make([]string, 0, len(r.domains))
	for k := range r.domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Inventory queries every domain for the user. Ordering is by category key
// so exports and deletion reports are reproducible. A domain that fails to
// respond yields a category marked unavailable, never a silent zero.
func (r *InventoryResolver) Inventory(ctx context.Context, userID string) []model.DataCategory {
	categories := make([]model.DataCategory, 0, len(r.domains))
	for _, key := range r.Keys() {
		d := r.domains[key]
		cat := model.DataCategory{
			Key:   d.Key(),
			Label: d.Label(),
			Icon:  d.Icon(),
		}

		count, err := d.Count(ctx, userID)
		if err == nil {
			cat.RecordCount = count
			if size, serr := d.Size(ctx, userID); serr == nil {
				cat.ByteSize = size
			} else {
				err = serr
			}
		}
		if err != nil {
			cat.Unavailable = true
			logger.Warn("data domain unavailable", "domain", d.Key(), "error", err.Error())
		}
		categories = append(categories, cat)
	}
	return categories
}

// resolveSelection validates a requested category list against the
// registered domains. An empty selection means all domains.
func (r *InventoryResolver) resolveSelection(selected []string) ([]string, error) {
	if len(selected) == 0 {
		return r.Keys(), nil
	}
	keys := make([]string, 0, len(selected))
	seen := make(map[string]struct{}, len(selected))
	for _, key := range selected {
		if _, ok := r.domains[key]; !ok {
			return nil, fmt.Errorf("unknown data category %q", key)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
