package keychain

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory implementation of Backend for testing and
// for hosts without a persistent store. Entries do not survive restarts.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	nextRef uint64
}

type memoryEntry struct {
	attrs Attributes
	data  []byte
	ref   []byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memoryEntry)}
}

// identity is the uniqueness key: class, service, access group, account.
func identity(class EntryClass, service, group string, account []byte) string {
	return fmt.Sprintf("%d\x00%s\x00%s\x00%x", class, service, group, account)
}

func (b *MemoryBackend) Add(item Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := identity(item.Class, item.Service, item.AccessGroup, item.Account)
	if _, ok := b.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, item.Account)
	}
	b.nextRef++
	b.entries[id] = &memoryEntry{
		attrs: Attributes{
			Class:         item.Class,
			Service:       item.Service,
			AccessGroup:   item.AccessGroup,
			Account:       bytes.Clone(item.Account),
			Accessibility: item.Accessibility,
		},
		data: cloneData(item.Data),
		ref:  fmt.Appendf(nil, "mem:%d", b.nextRef),
	}
	return nil
}

func (b *MemoryBackend) CopyMatching(q Query) ([]Match, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matches []Match
	for _, id := range b.sortedIDs() {
		e := b.entries[id]
		if !matchesQuery(q, e.attrs) {
			continue
		}
		m := Match{Attributes: e.attrs}
		m.Account = bytes.Clone(e.attrs.Account)
		switch q.Return {
		case ReturnData:
			m.Data = cloneData(e.data)
		case ReturnPersistentRef:
			m.Ref = bytes.Clone(e.ref)
		}
		matches = append(matches, m)
		if q.Limit == LimitOne {
			break
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches, nil
}

func (b *MemoryBackend) Update(q Query, attrs Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for _, e := range b.entries {
		if !matchesQuery(q, e.attrs) {
			continue
		}
		found = true
		e.data = cloneData(attrs.Data)
		if attrs.Accessibility != AccessibleUnspecified {
			e.attrs.Accessibility = attrs.Accessibility
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (b *MemoryBackend) Delete(q Query) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for id, e := range b.entries {
		if matchesQuery(q, e.attrs) {
			delete(b.entries, id)
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of stored entries across all scopes.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *MemoryBackend) sortedIDs() []string {
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// matchesQuery applies the wildcard rules: zero-valued query fields match
// anything unless ExactGroup pins the access group. Generic is kept in step
// with Account, so Account alone decides.
func matchesQuery(q Query, a Attributes) bool {
	if q.Class != ClassAny && q.Class != a.Class {
		return false
	}
	if q.Service != "" && q.Service != a.Service {
		return false
	}
	if (q.ExactGroup || q.AccessGroup != "") && q.AccessGroup != a.AccessGroup {
		return false
	}
	if q.Account != nil && !bytes.Equal(q.Account, a.Account) {
		return false
	}
	if q.Accessibility != AccessibleUnspecified && q.Accessibility != a.Accessibility {
		return false
	}
	return true
}

func cloneData(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return bytes.Clone(b)
}
