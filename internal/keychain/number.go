package keychain

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// NumberKind records how a Number was stored.
type NumberKind int

const (
	KindInt NumberKind = iota
	KindFloat
	KindBool
)

// Number is a stored numeric value. It converts freely between integer,
// floating point and boolean readings, so a value written with SetBool can
// be read back with Int and vice versa.
type Number struct {
	kind NumberKind
	i    int64
	f    float64
}

// IntNumber wraps an integer.
func IntNumber(v int64) Number { return Number{kind: KindInt, i: v, f: float64(v)} }

// FloatNumber wraps a floating point value.
func FloatNumber(v float64) Number { return Number{kind: KindFloat, i: truncate(v), f: v} }

// BoolNumber wraps a boolean as 1 or 0.
func BoolNumber(v bool) Number {
	n := IntNumber(0)
	if v {
		n = IntNumber(1)
	}
	n.kind = KindBool
	return n
}

func truncate(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	return int64(v)
}

// Kind reports how the number was stored.
func (n Number) Kind() NumberKind { return n.kind }

// Int returns the value as an integer, truncating floats toward zero.
func (n Number) Int() int64 { return n.i }

// Float64 returns the value as a float64.
func (n Number) Float64() float64 { return n.f }

// Float32 returns the value as a float32.
func (n Number) Float32() float32 { return float32(n.f) }

// Bool reports whether the value is non-zero.
func (n Number) Bool() bool { return n.f != 0 }

func (n Number) String() string {
	switch n.kind {
	case KindFloat:
		return fmt.Sprint(n.f)
	case KindBool:
		return fmt.Sprint(n.Bool())
	}
	return fmt.Sprint(n.i)
}

// encodeNumber writes the number as a bare CBOR scalar so the stored bytes
// keep their kind.
func encodeNumber(n Number) ([]byte, error) {
	switch n.kind {
	case KindFloat:
		return cborEnc.Marshal(n.f)
	case KindBool:
		return cborEnc.Marshal(n.Bool())
	}
	return cborEnc.Marshal(n.i)
}

func decodeNumber(data []byte) (Number, error) {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return Number{}, fmt.Errorf("decoding number: %w", err)
	}
	switch x := v.(type) {
	case uint64:
		if x > math.MaxInt64 {
			return FloatNumber(float64(x)), nil
		}
		return IntNumber(int64(x)), nil
	case int64:
		return IntNumber(x), nil
	case float64:
		return FloatNumber(x), nil
	case float32:
		return FloatNumber(float64(x)), nil
	case bool:
		return BoolNumber(x), nil
	}
	return Number{}, fmt.Errorf("decoding number: unexpected %T", v)
}
