package keychain

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// Unit tests use MemoryBackend; no Keychain interaction needed.

func testWrapper(t *testing.T, service string, opts ...WrapperOption) (*Wrapper, *MemoryBackend) {
	t.Helper()
	b := NewMemoryBackend()
	return New(b, service, opts...), b
}

func TestDataRoundTrip(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")

	for _, v := range [][]byte{[]byte("hello"), {0x00, 0xff, 0x10}, {}} {
		if !w.Set("blob", v) {
			t.Fatalf("Set(%x) failed", v)
		}
		got, ok := w.Data("blob")
		if !ok {
			t.Fatalf("Data after Set(%x): not found", v)
		}
		if !bytes.Equal(got, v) {
			t.Errorf("expected %x, got %x", v, got)
		}
	}
}

func TestStringScenario(t *testing.T) {
	w, b := testWrapper(t, "test.scope")

	if !w.SetString("greeting", "hello") {
		t.Fatal("SetString hello failed")
	}
	if v, ok := w.String("greeting"); !ok || v != "hello" {
		t.Errorf("expected hello, got %q (ok=%v)", v, ok)
	}

	if !w.SetString("greeting", "world") {
		t.Fatal("SetString world failed")
	}
	if v, ok := w.String("greeting"); !ok || v != "world" {
		t.Errorf("expected world, got %q (ok=%v)", v, ok)
	}
	if b.Len() != 1 {
		t.Errorf("expected exactly 1 entry after overwrite, got %d", b.Len())
	}

	if !w.RemoveObject("greeting") {
		t.Fatal("RemoveObject failed")
	}
	if v, ok := w.String("greeting"); ok {
		t.Errorf("expected no value after remove, got %q", v)
	}
}

func TestSetStringRejectsInvalidUTF8(t *testing.T) {
	w, b := testWrapper(t, "test.scope")

	if w.SetString("bad", string([]byte{0xff, 0xfe})) {
		t.Error("expected SetString to fail on invalid UTF-8")
	}
	if b.Len() != 0 {
		t.Errorf("expected backend untouched, got %d entries", b.Len())
	}
}

func TestStringRejectsNonUTF8Data(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.Set("raw", []byte{0xc3, 0x28})

	if _, ok := w.String("raw"); ok {
		t.Error("expected String to fail on invalid UTF-8 data")
	}
	if !w.HasValue("raw") {
		t.Error("expected raw data to still be present")
	}
}

func TestDataMissing(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")

	if _, ok := w.Data("never-set"); ok {
		t.Error("expected missing key to report not found")
	}
	if w.HasValue("never-set") {
		t.Error("expected HasValue false for missing key")
	}
}

func TestHasValueMatchesData(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("present", "x")

	for _, key := range []string{"present", "absent"} {
		_, dataOK := w.Data(key)
		if w.HasValue(key) != dataOK {
			t.Errorf("HasValue(%q) disagrees with Data", key)
		}
	}
}

func TestNumbers(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")

	w.SetInt("int", -42)
	if v, ok := w.Int("int"); !ok || v != -42 {
		t.Errorf("Int: expected -42, got %d (ok=%v)", v, ok)
	}
	if v, ok := w.Float64("int"); !ok || v != -42 {
		t.Errorf("Float64 of int: expected -42, got %v", v)
	}

	w.SetFloat64("pi", 3.25)
	if v, ok := w.Float64("pi"); !ok || v != 3.25 {
		t.Errorf("Float64: expected 3.25, got %v (ok=%v)", v, ok)
	}
	if v, ok := w.Int("pi"); !ok || v != 3 {
		t.Errorf("Int of float: expected 3, got %d", v)
	}

	w.SetFloat32("f32", 1.5)
	if v, ok := w.Float32("f32"); !ok || v != 1.5 {
		t.Errorf("Float32: expected 1.5, got %v (ok=%v)", v, ok)
	}

	w.SetBool("flag", true)
	if v, ok := w.Bool("flag"); !ok || !v {
		t.Errorf("Bool: expected true, got %v (ok=%v)", v, ok)
	}
	if v, ok := w.Int("flag"); !ok || v != 1 {
		t.Errorf("Int of bool: expected 1, got %d", v)
	}
	n, ok := w.Number("flag")
	if !ok || n.Kind() != KindBool {
		t.Errorf("expected bool kind, got %v", n.Kind())
	}

	w.SetInt("zero", 0)
	if v, ok := w.Bool("zero"); !ok || v {
		t.Errorf("Bool of 0: expected false, got %v", v)
	}
}

func TestNumberDecodeFailure(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("text", "not a number")

	if _, ok := w.Int("text"); ok {
		t.Error("expected Int to fail on text data")
	}
	if _, ok := w.Bool("missing"); ok {
		t.Error("expected Bool to fail on missing key")
	}
}

type profile struct {
	Name  string   `json:"name" yaml:"name" cbor:"name"`
	Roles []string `json:"roles" yaml:"roles" cbor:"roles"`
}

func TestObjectCodecs(t *testing.T) {
	for name, codec := range map[string]Codec{"cbor": CBOR, "json": JSON, "yaml": YAML} {
		t.Run(name, func(t *testing.T) {
			w, _ := testWrapper(t, "test.scope")
			in := profile{Name: "ada", Roles: []string{"admin", "ops"}}

			if !SetObject(w, "profile", in, codec) {
				t.Fatal("SetObject failed")
			}
			out, ok := Object[profile](w, "profile", codec)
			if !ok {
				t.Fatal("Object failed")
			}
			if out.Name != in.Name || len(out.Roles) != 2 || out.Roles[1] != "ops" {
				t.Errorf("expected %+v, got %+v", in, out)
			}
		})
	}
}

func TestObjectDecodeFailure(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("profile", "{not json")

	if _, ok := Object[profile](w, "profile", JSON); ok {
		t.Error("expected decode failure")
	}
}

type failingCodec struct{}

func (failingCodec) Marshal(any) ([]byte, error) { return nil, errors.New("boom") }
func (failingCodec) Unmarshal([]byte, any) error { return errors.New("boom") }

func TestSetObjectEncodeFailure(t *testing.T) {
	w, b := testWrapper(t, "test.scope")

	if SetObject(w, "obj", 1, failingCodec{}) {
		t.Error("expected SetObject to fail")
	}
	if b.Len() != 0 {
		t.Error("expected backend untouched")
	}
}

func TestDefaultAccessibilityOnInsert(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("k", "v")

	a, ok := w.Accessibility("k")
	if !ok {
		t.Fatal("Accessibility: not found")
	}
	if a != AccessibleWhenUnlocked {
		t.Errorf("expected when-unlocked, got %v", a)
	}
}

func TestAccessibilityPreservedOnUpdateWithoutOverride(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("k", "v1", WithAccessibility(AccessibleAfterFirstUnlockThisDeviceOnly))
	w.SetString("k", "v2")

	a, _ := w.Accessibility("k")
	if a != AccessibleAfterFirstUnlockThisDeviceOnly {
		t.Errorf("expected class preserved, got %v", a)
	}
	if v, _ := w.String("k"); v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}
}

func TestAccessibilityReappliedOnUpdate(t *testing.T) {
	w, b := testWrapper(t, "test.scope")
	w.SetString("k", "v1")
	if !w.SetString("k", "v2", WithAccessibility(AccessibleAlways)) {
		t.Fatal("update with new accessibility failed")
	}

	a, _ := w.Accessibility("k")
	if a != AccessibleAlways {
		t.Errorf("expected always, got %v", a)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", b.Len())
	}
}

func TestAccessibilityFilterOnRead(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("k", "v", WithAccessibility(AccessibleAfterFirstUnlock))

	if _, ok := w.String("k", WithAccessibility(AccessibleAfterFirstUnlock)); !ok {
		t.Error("expected match with the stored class")
	}
	if _, ok := w.String("k", WithAccessibility(AccessibleWhenUnlocked)); ok {
		t.Error("expected no match with a different class")
	}
	if w.HasValue("k", WithAccessibility(AccessibleAlways)) {
		t.Error("expected HasValue false with a different class")
	}
}

func TestAccessibilityMissingKey(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	if _, ok := w.Accessibility("nope"); ok {
		t.Error("expected no accessibility for missing key")
	}
}

func TestAccessibilityUnknownAttribute(t *testing.T) {
	b := NewMemoryBackend()
	w := New(b, "test.scope")
	b.Add(Item{
		Class:         ClassGenericPassword,
		Service:       "test.scope",
		Account:       []byte("odd"),
		Accessibility: Accessibility(99),
		Data:          []byte("v"),
	})

	if _, ok := w.Accessibility("odd"); ok {
		t.Error("expected unknown attribute to report not found")
	}
}

func TestDataRef(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("a", "1")
	w.SetString("b", "2")

	refA, ok := w.DataRef("a")
	if !ok || len(refA) == 0 {
		t.Fatal("expected a persistent ref")
	}
	refB, _ := w.DataRef("b")
	if bytes.Equal(refA, refB) {
		t.Error("expected distinct refs")
	}
	if bytes.Equal(refA, []byte("1")) {
		t.Error("ref must not be the value")
	}

	w.SetString("a", "updated")
	again, _ := w.DataRef("a")
	if !bytes.Equal(refA, again) {
		t.Error("expected ref to survive an update")
	}

	if _, ok := w.DataRef("missing"); ok {
		t.Error("expected no ref for missing key")
	}
}

func TestRemoveAbsentKeySucceeds(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	if !w.RemoveObject("never-existed") {
		t.Error("expected removing an absent key to succeed")
	}
}

func TestRemoveObjectWithAccessibilityFilter(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")
	w.SetString("k", "v", WithAccessibility(AccessibleAlways))

	w.RemoveObject("k", WithAccessibility(AccessibleWhenUnlocked))
	if !w.HasValue("k") {
		t.Error("expected entry with a different class to survive")
	}
	w.RemoveObject("k", WithAccessibility(AccessibleAlways))
	if w.HasValue("k") {
		t.Error("expected entry to be removed")
	}
}

func TestServiceIsolation(t *testing.T) {
	b := NewMemoryBackend()
	a := New(b, "service.a")
	other := New(b, "service.b")

	a.SetString("shared", "from-a")
	other.SetString("shared", "from-b")

	if v, _ := a.String("shared"); v != "from-a" {
		t.Errorf("expected from-a, got %q", v)
	}
	if v, _ := other.String("shared"); v != "from-b" {
		t.Errorf("expected from-b, got %q", v)
	}

	a.RemoveObject("shared")
	if v, ok := other.String("shared"); !ok || v != "from-b" {
		t.Errorf("expected service.b entry untouched, got %q", v)
	}
}

func TestSharedServiceSeesSameEntries(t *testing.T) {
	b := NewMemoryBackend()
	first := New(b, "same", WithAccessGroup("grp"))
	second := New(b, "same", WithAccessGroup("grp"))

	first.SetString("k", "v")
	if v, ok := second.String("k"); !ok || v != "v" {
		t.Errorf("expected shared entry, got %q (ok=%v)", v, ok)
	}
}

func TestEmptyAccessGroupIsExact(t *testing.T) {
	b := NewMemoryBackend()
	grouped := New(b, "svc", WithAccessGroup("team"))
	plain := New(b, "svc")

	grouped.SetString("k", "from-group")
	if plain.HasValue("k") {
		t.Fatal("expected ungrouped handle not to see a grouped entry")
	}

	plain.SetString("k", "from-plain")
	plain.SetString("k", "again")
	if b.Len() != 2 {
		t.Errorf("expected one entry per scope, got %d", b.Len())
	}
	if v, _ := plain.String("k"); v != "again" {
		t.Errorf("expected again, got %q", v)
	}
	if v, _ := grouped.String("k"); v != "from-group" {
		t.Errorf("expected grouped entry untouched, got %q", v)
	}

	plain.RemoveAllKeys()
	if !grouped.HasValue("k") {
		t.Error("expected grouped entry to survive an ungrouped clear")
	}
}

func TestRemoveAllKeysScoped(t *testing.T) {
	b := NewMemoryBackend()
	a := New(b, "service.a")
	grouped := New(b, "service.a", WithAccessGroup("team"))
	other := New(b, "service.b")

	a.SetString("one", "1")
	a.SetString("two", "2")
	grouped.SetString("three", "3")
	other.SetString("one", "keep")

	if !grouped.RemoveAllKeys() {
		t.Fatal("RemoveAllKeys on group failed")
	}
	if grouped.HasValue("three") {
		t.Error("expected grouped entry removed")
	}
	if !a.HasValue("one") {
		t.Error("expected ungrouped entries to survive a grouped clear")
	}

	if !a.RemoveAllKeys() {
		t.Fatal("RemoveAllKeys failed")
	}
	if a.HasValue("one") || a.HasValue("two") {
		t.Error("expected service.a entries removed")
	}
	if v, ok := other.String("one"); !ok || v != "keep" {
		t.Errorf("expected service.b entry retrievable, got %q", v)
	}

	if !a.RemoveAllKeys() {
		t.Error("expected RemoveAllKeys on an empty scope to succeed")
	}
}

func TestKeys(t *testing.T) {
	w, _ := testWrapper(t, "test.scope")

	keys, ok := w.Keys()
	if !ok || len(keys) != 0 {
		t.Fatalf("expected empty key list, got %v (ok=%v)", keys, ok)
	}

	w.SetString("b", "2")
	w.SetString("a", "1")
	keys, _ = w.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected [a b], got %v", keys)
	}
}

func TestWipeKeychain(t *testing.T) {
	b := NewMemoryBackend()
	New(b, "service.a").SetString("k", "v")
	New(b, "service.b", WithAccessGroup("g")).SetString("k", "v")
	b.Add(Item{Class: ClassCertificate, Account: []byte("cert"), Data: []byte{1}})
	b.Add(Item{Class: ClassKey, Account: []byte("key"), Data: []byte{2}})

	if !WipeKeychain(b) {
		t.Fatal("WipeKeychain failed")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", b.Len())
	}
	if !WipeKeychain(b) {
		t.Error("expected wiping an empty store to succeed")
	}
}

// faultyBackend fails every call with a fixed error.
type faultyBackend struct{ err error }

func (f faultyBackend) Add(Item) error { return f.err }
func (f faultyBackend) CopyMatching(Query) ([]Match, error) { return nil, f.err }
func (f faultyBackend) Update(Query, Update) error { return f.err }
func (f faultyBackend) Delete(Query) error { return f.err }

func TestBackendFailuresCollapse(t *testing.T) {
	w := New(faultyBackend{err: fmt.Errorf("keychain: %w", ErrLocked)}, "test.scope")

	if w.SetString("k", "v") {
		t.Error("expected Set to fail")
	}
	if _, ok := w.String("k"); ok {
		t.Error("expected read to fail")
	}
	if w.RemoveObject("k") {
		t.Error("expected RemoveObject to fail")
	}
	if w.RemoveAllKeys() {
		t.Error("expected RemoveAllKeys to fail")
	}
	if _, ok := w.Keys(); ok {
		t.Error("expected Keys to fail")
	}
	if WipeKeychain(faultyBackend{err: ErrLocked}) {
		t.Error("expected WipeKeychain to fail")
	}
}

// unsupportedBackend cannot address anything but generic passwords.
type unsupportedBackend struct{ *MemoryBackend }

func (u unsupportedBackend) Delete(q Query) error {
	if q.Class != ClassGenericPassword {
		return ErrUnsupported
	}
	return u.MemoryBackend.Delete(q)
}

func TestWipeSkipsUnsupportedClasses(t *testing.T) {
	b := unsupportedBackend{NewMemoryBackend()}
	New(b, "svc").SetString("k", "v")

	if !WipeKeychain(b) {
		t.Error("expected unsupported classes to be skipped")
	}
}

func TestQueryEncodesKeyTwice(t *testing.T) {
	w, _ := testWrapper(t, "svc", WithAccessGroup("grp"))
	q := w.query("user/token", AccessibleAlways)

	if q.Class != ClassGenericPassword {
		t.Errorf("expected generic password class, got %v", q.Class)
	}
	if q.Service != "svc" || q.AccessGroup != "grp" {
		t.Errorf("unexpected scope %q/%q", q.Service, q.AccessGroup)
	}
	if string(q.Account) != "user/token" || string(q.Generic) != "user/token" {
		t.Errorf("expected key in both slots, got %q/%q", q.Account, q.Generic)
	}
	if q.Accessibility != AccessibleAlways {
		t.Errorf("expected accessibility carried, got %v", q.Accessibility)
	}
}

func TestDefaultServiceName(t *testing.T) {
	w := NewDefault(NewMemoryBackend())
	if w.Service() == "" {
		t.Fatal("expected a non-empty default service name")
	}
	if w.Service() != DefaultServiceName() {
		t.Errorf("expected %q, got %q", DefaultServiceName(), w.Service())
	}
	if w.AccessGroup() != "" {
		t.Errorf("expected no access group, got %q", w.AccessGroup())
	}
}

func TestConcurrentWritesSameKey(t *testing.T) {
	w, b := testWrapper(t, "test.scope")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !w.SetInt("counter", i) {
				t.Errorf("SetInt(%d) failed", i)
			}
		}()
	}
	wg.Wait()

	if b.Len() != 1 {
		t.Errorf("expected one entry after concurrent writes, got %d", b.Len())
	}
	if _, ok := w.Int("counter"); !ok {
		t.Error("expected a readable value")
	}
}
