//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemBackend stores entries in the macOS Keychain. Entries are never
// synchronised to iCloud.
type SystemBackend struct{}

// NewSystemBackend creates a Keychain-backed backend.
func NewSystemBackend() (Backend, error) {
	return &SystemBackend{}, nil
}

var secClasses = map[EntryClass]gokeychain.SecClass{
	ClassGenericPassword:  gokeychain.SecClassGenericPassword,
	ClassInternetPassword: gokeychain.SecClassInternetPassword,
}

var accessibles = map[Accessibility]gokeychain.Accessible{
	AccessibleWhenUnlocked:                   gokeychain.AccessibleWhenUnlocked,
	AccessibleAfterFirstUnlock:               gokeychain.AccessibleAfterFirstUnlock,
	AccessibleAlways:                         gokeychain.AccessibleAlways,
	AccessibleWhenPasscodeSetThisDeviceOnly:  gokeychain.AccessibleWhenPasscodeSetThisDeviceOnly,
	AccessibleWhenUnlockedThisDeviceOnly:     gokeychain.AccessibleWhenUnlockedThisDeviceOnly,
	AccessibleAfterFirstUnlockThisDeviceOnly: gokeychain.AccessibleAfterFirstUnlockThisDeviceOnly,
	AccessibleAlwaysThisDeviceOnly:           gokeychain.AccessibleAccessibleAlwaysThisDeviceOnly,
}

// toItem translates the typed query into a Keychain attribute set.
func toItem(class EntryClass, service, group string, account []byte, a Accessibility) (gokeychain.Item, error) {
	item := gokeychain.NewItem()
	if class != ClassAny {
		sc, ok := secClasses[class]
		if !ok {
			return item, fmt.Errorf("%w: entry class %s", ErrUnsupported, class)
		}
		item.SetSecClass(sc)
	}
	if service != "" {
		item.SetService(service)
	}
	if group != "" {
		item.SetAccessGroup(group)
	}
	if account != nil {
		item.SetAccount(string(account))
	}
	if a != AccessibleUnspecified {
		item.SetAccessible(accessibles[a])
	}
	return item, nil
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, gokeychain.ErrorItemNotFound):
		return ErrNotFound
	case errors.Is(err, gokeychain.ErrorDuplicateItem):
		return ErrDuplicate
	case errors.Is(err, gokeychain.ErrorInteractionNotAllowed):
		return fmt.Errorf("keychain %s: %w: %w", op, ErrLocked, err)
	}
	return fmt.Errorf("keychain %s: %w", op, err)
}

// Add stores a new item. The binding has no generic-attribute setter, so
// the second key slot is carried as the label Keychain Access displays.
func (b *SystemBackend) Add(it Item) error {
	item, err := toItem(it.Class, it.Service, it.AccessGroup, it.Account, it.Accessibility)
	if err != nil {
		return err
	}
	if it.Generic != nil {
		item.SetLabel(fmt.Sprintf("%s: %s", it.Service, it.Generic))
	}
	item.SetData(it.Data)
	item.SetSynchronizable(gokeychain.SynchronizableNo)

	if err := gokeychain.AddItem(item); err != nil {
		return mapError("add", err)
	}
	return nil
}

func (b *SystemBackend) query(q Query) ([]gokeychain.QueryResult, error) {
	item, err := toItem(q.Class, q.Service, q.AccessGroup, q.Account, q.Accessibility)
	if err != nil {
		return nil, err
	}
	if q.Limit == LimitAll {
		item.SetMatchLimit(gokeychain.MatchLimitAll)
	} else {
		item.SetMatchLimit(gokeychain.MatchLimitOne)
	}
	item.SetReturnAttributes(true)
	if q.Return == ReturnData {
		item.SetReturnData(true)
	}

	results, err := gokeychain.QueryItem(item)
	if err != nil {
		return nil, mapError("query", err)
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results, nil
}

func (b *SystemBackend) CopyMatching(q Query) ([]Match, error) {
	lookup := q
	if q.ExactGroup && q.AccessGroup == "" {
		lookup.Limit = LimitAll
	}
	results, err := b.query(lookup)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		// An unset kSecAttrAccessGroup is a wildcard to SecItemCopyMatching.
		if q.ExactGroup && r.AccessGroup != q.AccessGroup {
			continue
		}
		m := Match{Attributes: Attributes{
			Class:         q.Class,
			Service:       r.Service,
			AccessGroup:   r.AccessGroup,
			Account:       []byte(r.Account),
			Accessibility: q.Accessibility,
		}}
		switch q.Return {
		case ReturnData:
			m.Data = r.Data
		case ReturnPersistentRef:
			ref, err := EncodePersistentRef(m.Attributes)
			if err != nil {
				return nil, err
			}
			m.Ref = ref
		case ReturnAttributes:
			if m.Accessibility == AccessibleUnspecified && q.Limit == LimitOne {
				m.Accessibility = b.probeAccessibility(q)
			}
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

// probeAccessibility finds the stored class by re-running the query with
// each class as a filter. The binding does not return kSecAttrAccessible.
func (b *SystemBackend) probeAccessibility(q Query) Accessibility {
	for _, a := range Accessibilities {
		probe := q
		probe.Accessibility = a
		probe.Return = ReturnAttributes
		probe.Limit = LimitOne
		if _, err := b.query(probe); err == nil {
			return a
		}
	}
	return AccessibleUnspecified
}

func (b *SystemBackend) Update(q Query, attrs Update) error {
	query, err := toItem(q.Class, q.Service, q.AccessGroup, q.Account, q.Accessibility)
	if err != nil {
		return err
	}
	update := gokeychain.NewItem()
	update.SetData(attrs.Data)
	if attrs.Accessibility != AccessibleUnspecified {
		update.SetAccessible(accessibles[attrs.Accessibility])
	}
	if err := gokeychain.UpdateItem(query, update); err != nil {
		return mapError("update", err)
	}
	return nil
}

func (b *SystemBackend) Delete(q Query) error {
	item, err := toItem(q.Class, q.Service, q.AccessGroup, q.Account, q.Accessibility)
	if err != nil {
		return err
	}
	if err := gokeychain.DeleteItem(item); err != nil {
		return mapError("delete", err)
	}
	return nil
}
