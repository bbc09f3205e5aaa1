/*
category.go - Category registration and lookup

PURPOSE:
  Provides a registry for domain packages to register the student
  categories they track. Storage and JSON decoding use the registry to
  reject unknown category names, and ledgers default their active
  category set to the registered ones.

USAGE:
  // In mdm/types.go
  func init() {
      generic.RegisterCategory(CategoryPrimary)
      generic.RegisterCategory(CategoryMiddle)
  }

  c, ok := generic.LookupCategory("primary")

SEE ALSO:
  - ledger.go: per-category balances
  - rates.go: per-category rates
*/
package generic

import (
	"sort"
	"sync"
)

// Category is a student population segment with independently tracked
// rates and balances.
type Category string

var (
	categoryRegistry = make(map[Category]int)
	categoryOrder    int
	registryMu       sync.RWMutex
)

// RegisterCategory adds a category to the registry. Registration order is
// the display and fingerprint order.
func RegisterCategory(c Category) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := categoryRegistry[c]; ok {
		return
	}
	categoryRegistry[c] = categoryOrder
	categoryOrder++
}

// LookupCategory finds a registered category by name.
func LookupCategory(name string) (Category, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := categoryRegistry[Category(name)]
	return Category(name), ok
}

// ListCategories returns all registered categories in registration order.
func ListCategories() []Category {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Category, 0, len(categoryRegistry))
	for c := range categoryRegistry {
		result = append(result, c)
	}
	sortCategoriesLocked(result)
	return result
}

// SortCategories orders categories by registration order; unknown ones go
// last, alphabetically.
func SortCategories(cs []Category) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	sortCategoriesLocked(cs)
}

func sortCategoriesLocked(cs []Category) {
	sort.SliceStable(cs, func(i, j int) bool {
		oi, iok := categoryRegistry[cs[i]]
		oj, jok := categoryRegistry[cs[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return cs[i] < cs[j]
		}
	})
}
