package keychain

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sort"
	"unicode/utf8"
)

// FallbackServiceName is used by NewDefault when the build carries no
// module path.
const FallbackServiceName = "com.keystash.keychain"

// Wrapper is a typed view over a Backend, scoped to one service name and
// an optional access group. It is stateless apart from those two fields,
// so a single Wrapper may be shared between goroutines.
type Wrapper struct {
	backend     Backend
	service     string
	accessGroup string
	log         *slog.Logger
}

// WrapperOption configures a Wrapper at construction.
type WrapperOption func(*Wrapper)

// WithAccessGroup scopes the wrapper to an access group shared between
// applications.
func WithAccessGroup(group string) WrapperOption {
	return func(w *Wrapper) { w.accessGroup = group }
}

// WithLogger sets the logger used to report backend failures.
func WithLogger(l *slog.Logger) WrapperOption {
	return func(w *Wrapper) { w.log = l }
}

// New creates a wrapper for an explicit service name.
func New(backend Backend, service string, opts ...WrapperOption) *Wrapper {
	w := &Wrapper{
		backend: backend,
		service: service,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// NewDefault creates a wrapper scoped to DefaultServiceName.
func NewDefault(backend Backend, opts ...WrapperOption) *Wrapper {
	return New(backend, DefaultServiceName(), opts...)
}

// DefaultServiceName derives a service name from the running binary's main
// module path, falling back to FallbackServiceName.
func DefaultServiceName() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Path == "" {
		return FallbackServiceName
	}
	return info.Main.Path
}

// Service returns the wrapper's service name.
func (w *Wrapper) Service() string { return w.service }

// AccessGroup returns the wrapper's access group, or "" if none.
func (w *Wrapper) AccessGroup() string { return w.accessGroup }

// Option adjusts a single read, write or delete call.
type Option func(*callOptions)

type callOptions struct {
	accessibility Accessibility
}

// WithAccessibility supplies the accessibility class for one call. On reads
// and deletes it filters matches; on writes it sets the stored class.
func WithAccessibility(a Accessibility) Option {
	return func(o *callOptions) { o.accessibility = a }
}

func applyOptions(opts []Option) callOptions {
	var o callOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// query builds the lookup shared by every per-key operation.
func (w *Wrapper) query(key string, a Accessibility) Query {
	encoded := []byte(key)
	return Query{
		Class:         ClassGenericPassword,
		Service:       w.service,
		AccessGroup:   w.accessGroup,
		ExactGroup:    true,
		Accessibility: a,
		Account:       encoded,
		Generic:       encoded,
	}
}

func (w *Wrapper) fail(op, key string, err error) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	w.log.Debug("keychain operation failed",
		"op", op,
		"key", key,
		"service", w.service,
		"access_group", w.accessGroup,
		"error", err,
	)
}

func (w *Wrapper) copyOne(op, key string, q Query) (Match, bool) {
	q.Limit = LimitOne
	matches, err := w.backend.CopyMatching(q)
	if err != nil {
		w.fail(op, key, err)
		return Match{}, false
	}
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// Data returns the raw value stored under key.
func (w *Wrapper) Data(key string, opts ...Option) ([]byte, bool) {
	o := applyOptions(opts)
	q := w.query(key, o.accessibility)
	q.Return = ReturnData
	m, ok := w.copyOne("data", key, q)
	if !ok {
		return nil, false
	}
	if m.Data == nil {
		return []byte{}, true
	}
	return m.Data, true
}

// DataRef returns an opaque persistent reference to the entry under key.
func (w *Wrapper) DataRef(key string, opts ...Option) ([]byte, bool) {
	o := applyOptions(opts)
	q := w.query(key, o.accessibility)
	q.Return = ReturnPersistentRef
	m, ok := w.copyOne("data_ref", key, q)
	if !ok || len(m.Ref) == 0 {
		return nil, false
	}
	return m.Ref, true
}

// HasValue reports whether Data would return a value for key.
func (w *Wrapper) HasValue(key string, opts ...Option) bool {
	_, ok := w.Data(key, opts...)
	return ok
}

// Accessibility returns the class stored for key, regardless of filter.
func (w *Wrapper) Accessibility(key string) (Accessibility, bool) {
	q := w.query(key, AccessibleUnspecified)
	q.Return = ReturnAttributes
	m, ok := w.copyOne("accessibility", key, q)
	if !ok {
		return AccessibleUnspecified, false
	}
	if _, known := attrValues[m.Accessibility]; !known {
		w.log.Debug("unrecognised accessibility attribute", "key", key, "service", w.service)
		return AccessibleUnspecified, false
	}
	return m.Accessibility, true
}

// String returns the value under key decoded as UTF-8 text.
func (w *Wrapper) String(key string, opts ...Option) (string, bool) {
	data, ok := w.Data(key, opts...)
	if !ok || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// Number returns the value under key decoded as a stored number.
func (w *Wrapper) Number(key string, opts ...Option) (Number, bool) {
	data, ok := w.Data(key, opts...)
	if !ok {
		return Number{}, false
	}
	n, err := decodeNumber(data)
	if err != nil {
		w.fail("number", key, err)
		return Number{}, false
	}
	return n, true
}

// Int returns the stored number under key as an int.
func (w *Wrapper) Int(key string, opts ...Option) (int, bool) {
	n, ok := w.Number(key, opts...)
	if !ok {
		return 0, false
	}
	return int(n.Int()), true
}

// Float64 returns the stored number under key as a float64.
func (w *Wrapper) Float64(key string, opts ...Option) (float64, bool) {
	n, ok := w.Number(key, opts...)
	if !ok {
		return 0, false
	}
	return n.Float64(), true
}

// Float32 returns the stored number under key as a float32.
func (w *Wrapper) Float32(key string, opts ...Option) (float32, bool) {
	n, ok := w.Number(key, opts...)
	if !ok {
		return 0, false
	}
	return n.Float32(), true
}

// Bool returns the stored number under key as a bool.
func (w *Wrapper) Bool(key string, opts ...Option) (bool, bool) {
	n, ok := w.Number(key, opts...)
	if !ok {
		return false, false
	}
	return n.Bool(), true
}

// Object decodes the value under key with codec.
func Object[T any](w *Wrapper, key string, codec Codec, opts ...Option) (T, bool) {
	var v T
	data, ok := w.Data(key, opts...)
	if !ok {
		return v, false
	}
	if err := codec.Unmarshal(data, &v); err != nil {
		w.fail("object", key, err)
		var zero T
		return zero, false
	}
	return v, true
}

// Keys returns the sorted keys stored in this wrapper's scope.
func (w *Wrapper) Keys() ([]string, bool) {
	q := Query{
		Class:       ClassGenericPassword,
		Service:     w.service,
		AccessGroup: w.accessGroup,
		ExactGroup:  true,
		Return:      ReturnAttributes,
		Limit:       LimitAll,
	}
	matches, err := w.backend.CopyMatching(q)
	if errors.Is(err, ErrNotFound) {
		return []string{}, true
	}
	if err != nil {
		w.fail("keys", "", err)
		return nil, false
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, string(m.Account))
	}
	sort.Strings(keys)
	return keys, true
}

// Set stores value under key. A new entry receives the supplied
// accessibility or DefaultAccessibility; an existing entry is updated in
// place and keeps its class unless one is supplied.
func (w *Wrapper) Set(key string, value []byte, opts ...Option) bool {
	o := applyOptions(opts)
	q := w.query(key, o.accessibility)

	a := o.accessibility
	if a == AccessibleUnspecified {
		a = DefaultAccessibility
	}
	item := Item{
		Class:         q.Class,
		Service:       q.Service,
		AccessGroup:   q.AccessGroup,
		Account:       q.Account,
		Generic:       q.Generic,
		Accessibility: a,
		Data:          value,
	}

	err := w.backend.Add(item)
	if errors.Is(err, ErrDuplicate) {
		return w.update(key, value, o.accessibility)
	}
	if err != nil {
		w.fail("set", key, err)
		return false
	}
	return true
}

// update rewrites an existing entry. The lookup ignores accessibility so
// that a supplied class can replace the stored one.
func (w *Wrapper) update(key string, value []byte, a Accessibility) bool {
	q := w.query(key, AccessibleUnspecified)
	if err := w.backend.Update(q, Update{Data: value, Accessibility: a}); err != nil {
		w.fail("update", key, err)
		return false
	}
	return true
}

// SetString stores value as UTF-8 text. Invalid UTF-8 fails without
// touching the backend.
func (w *Wrapper) SetString(key, value string, opts ...Option) bool {
	if !utf8.ValidString(value) {
		return false
	}
	return w.Set(key, []byte(value), opts...)
}

// SetInt stores value as a number.
func (w *Wrapper) SetInt(key string, value int, opts ...Option) bool {
	return w.setNumber(key, IntNumber(int64(value)), opts)
}

// SetFloat64 stores value as a number.
func (w *Wrapper) SetFloat64(key string, value float64, opts ...Option) bool {
	return w.setNumber(key, FloatNumber(value), opts)
}

// SetFloat32 stores value as a number.
func (w *Wrapper) SetFloat32(key string, value float32, opts ...Option) bool {
	return w.setNumber(key, FloatNumber(float64(value)), opts)
}

// SetBool stores value as a number.
func (w *Wrapper) SetBool(key string, value bool, opts ...Option) bool {
	return w.setNumber(key, BoolNumber(value), opts)
}

func (w *Wrapper) setNumber(key string, n Number, opts []Option) bool {
	data, err := encodeNumber(n)
	if err != nil {
		w.fail("set_number", key, err)
		return false
	}
	return w.Set(key, data, opts...)
}

// SetObject encodes value with codec and stores it under key.
func SetObject[T any](w *Wrapper, key string, value T, codec Codec, opts ...Option) bool {
	data, err := codec.Marshal(value)
	if err != nil {
		w.fail("set_object", key, err)
		return false
	}
	return w.Set(key, data, opts...)
}

// RemoveObject deletes the entry under key. Removing an absent key succeeds.
func (w *Wrapper) RemoveObject(key string, opts ...Option) bool {
	o := applyOptions(opts)
	err := w.backend.Delete(w.query(key, o.accessibility))
	if err != nil && !errors.Is(err, ErrNotFound) {
		w.fail("remove", key, err)
		return false
	}
	return true
}

// RemoveAllKeys deletes every entry in this wrapper's service and access
// group. Entries under other scopes are untouched.
func (w *Wrapper) RemoveAllKeys() bool {
	q := Query{
		Class:       ClassGenericPassword,
		Service:     w.service,
		AccessGroup: w.accessGroup,
		ExactGroup:  true,
	}
	err := w.backend.Delete(q)
	if err != nil && !errors.Is(err, ErrNotFound) {
		w.fail("remove_all", "", err)
		return false
	}
	return true
}

// WipeKeychain deletes every entry of every class in the backend,
// regardless of service or access group, including entries not written
// through a Wrapper. Classes the backend cannot address are skipped.
func WipeKeychain(backend Backend) bool {
	ok := true
	for _, class := range AllClasses {
		err := backend.Delete(Query{Class: class})
		switch {
		case err == nil, errors.Is(err, ErrNotFound):
		case errors.Is(err, ErrUnsupported):
			slog.Debug("wipe skipped entry class", "class", class.String())
		default:
			slog.Warn("wipe failed for entry class", "class", class.String(), "error", err)
			ok = false
		}
	}
	return ok
}
