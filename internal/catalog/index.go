package catalog

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// reverseIndex maps a referenced id or name to the variants whose
// upstream_inputs reference it.
type reverseIndex struct {
	refs   map[string]mapset.Set[string]
	keysOf map[string][]string
}

func newReverseIndex() *reverseIndex {
	return &reverseIndex{
		refs:   make(map[string]mapset.Set[string]),
		keysOf: make(map[string][]string),
	}
}

// indexKeys are the lookup keys a variant is filed under: every upstream id,
// plus the declared name of variant references.
func indexKeys(v *core.Variant) []string {
	keys := mapset.NewThreadUnsafeSet[string]()
	for _, r := range v.UpstreamInputs {
		keys.Add(r.ID)
		if r.Kind == core.NodeKindVariant && r.Name != "" {
			keys.Add(r.Name)
		}
	}
	out := keys.ToSlice()
	sort.Strings(out)
	return out
}

func (ix *reverseIndex) put(v *core.Variant) {
	ix.remove(v.VariantID)
	keys := indexKeys(v)
	for _, k := range keys {
		set, ok := ix.refs[k]
		if !ok {
			set = mapset.NewThreadUnsafeSet[string]()
			ix.refs[k] = set
		}
		set.Add(v.VariantID)
	}
	ix.keysOf[v.VariantID] = keys
}

func (ix *reverseIndex) remove(variantID string) {
	for _, k := range ix.keysOf[variantID] {
		if set, ok := ix.refs[k]; ok {
			set.Remove(variantID)
			if set.Cardinality() == 0 {
				delete(ix.refs, k)
			}
		}
	}
	delete(ix.keysOf, variantID)
}

// lookup returns the sorted ids referencing any of keys.
func (ix *reverseIndex) lookup(keys ...string) []string {
	found := mapset.NewThreadUnsafeSet[string]()
	for _, k := range keys {
		if k == "" {
			continue
		}
		if set, ok := ix.refs[k]; ok {
			found = found.Union(set)
		}
	}
	if found.Cardinality() == 0 {
		return nil
	}
	out := found.ToSlice()
	sort.Strings(out)
	return out
}

// keyedMutex serializes read-modify-write per record id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	waiters int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the locks for ids in sorted order and returns the release
// function.
func (k *keyedMutex) Lock(ids ...string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var held []string
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		k.mu.Lock()
		l, ok := k.locks[id]
		if !ok {
			l = &keyedLock{}
			k.locks[id] = l
		}
		l.waiters++
		k.mu.Unlock()

		l.Lock()
		held = append(held, id)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			id := held[i]
			k.mu.Lock()
			l := k.locks[id]
			l.waiters--
			if l.waiters == 0 {
				delete(k.locks, id)
			}
			k.mu.Unlock()
			l.Unlock()
		}
	}
}
