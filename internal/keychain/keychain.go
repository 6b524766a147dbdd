// Package keychain provides a typed key-value wrapper over a secure secret store.
//
// Entries are stored as generic passwords with:
//   - Service: the wrapper's service name (isolates one wrapper from another)
//   - Access group: optional, shared between cooperating applications
//   - Account: the entry key, UTF-8 encoded
//   - Generic: the entry key again, kept in step with Account for matching
//
// Each entry carries one Accessibility class. New entries default to
// AccessibleWhenUnlocked.
//
// The platform store sits behind the Backend interface, which mirrors the
// OS secure-storage protocol: add, copy-matching, update, delete.
package keychain

import "errors"

var (
	// ErrNotFound is returned by a Backend when no entry matches a query.
	ErrNotFound = errors.New("entry not found")

	// ErrDuplicate is returned by Backend.Add when an entry with the same
	// class, service, access group and account already exists.
	ErrDuplicate = errors.New("duplicate entry")

	// ErrUnsupported is returned when a backend cannot address an entry class
	// or return kind.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrLocked is returned when the store is unavailable or cannot unseal
	// an entry.
	ErrLocked = errors.New("store locked or unavailable")
)

// Backend is the upstream secure-storage protocol. Implementations must be
// safe for concurrent use; the Wrapper adds no locking of its own.
type Backend interface {
	// Add inserts a new entry. Returns ErrDuplicate if the identity exists.
	Add(item Item) error

	// CopyMatching returns the entries matching q, honouring q.Limit and
	// q.Return. Returns ErrNotFound when nothing matches.
	CopyMatching(q Query) ([]Match, error)

	// Update rewrites the entries matching q. Returns ErrNotFound when
	// nothing matches.
	Update(q Query, attrs Update) error

	// Delete removes the entries matching q. Returns ErrNotFound when
	// nothing matches.
	Delete(q Query) error
}

// EntryClass is the platform-level category of a stored entry.
type EntryClass int

const (
	ClassAny EntryClass = iota
	ClassGenericPassword
	ClassInternetPassword
	ClassCertificate
	ClassKey
	ClassIdentity
)

// AllClasses lists every concrete entry class, in wipe order.
var AllClasses = []EntryClass{
	ClassGenericPassword,
	ClassInternetPassword,
	ClassCertificate,
	ClassKey,
	ClassIdentity,
}

func (c EntryClass) String() string {
	switch c {
	case ClassGenericPassword:
		return "genp"
	case ClassInternetPassword:
		return "inet"
	case ClassCertificate:
		return "cert"
	case ClassKey:
		return "keys"
	case ClassIdentity:
		return "idnt"
	}
	return "any"
}

// ReturnKind selects what CopyMatching fills in on each Match.
type ReturnKind int

const (
	ReturnData ReturnKind = iota
	ReturnAttributes
	ReturnPersistentRef
)

// MatchLimit bounds the number of matches CopyMatching returns.
type MatchLimit int

const (
	LimitOne MatchLimit = iota
	LimitAll
)

// Query selects entries. Zero-valued fields match anything, except that
// ExactGroup makes AccessGroup match exactly, so an empty group selects
// only entries stored without one.
type Query struct {
	Class         EntryClass
	Service       string
	AccessGroup   string
	ExactGroup    bool
	Account       []byte
	Generic       []byte
	Accessibility Accessibility
	Return        ReturnKind
	Limit         MatchLimit
}

// Item is a complete entry handed to Backend.Add.
type Item struct {
	Class         EntryClass
	Service       string
	AccessGroup   string
	Account       []byte
	Generic       []byte
	Accessibility Accessibility
	Data          []byte
}

// Update carries the attributes rewritten by Backend.Update. A zero
// Accessibility leaves the stored class unchanged.
type Update struct {
	Data          []byte
	Accessibility Accessibility
}

// Attributes describe a stored entry without its value.
type Attributes struct {
	Class         EntryClass
	Service       string
	AccessGroup   string
	Account       []byte
	Accessibility Accessibility
}

// Match is one CopyMatching result. Data is set for ReturnData and Ref for
// ReturnPersistentRef; Attributes are always populated.
type Match struct {
	Attributes
	Data []byte
	Ref  []byte
}
