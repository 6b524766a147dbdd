package main

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/benaskins/keystash/internal/keychain"
)

// Value types accepted by --type. Data values are base64 on the command line.
const (
	typeString = "string"
	typeInt    = "int"
	typeFloat  = "float"
	typeBool   = "bool"
	typeData   = "data"
)

func setTyped(w *keychain.Wrapper, key, typ, raw string, opts ...keychain.Option) (bool, error) {
	switch typ {
	case typeString, "":
		return w.SetString(key, raw, opts...), nil
	case typeInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return false, fmt.Errorf("invalid int %q", raw)
		}
		return w.SetInt(key, n, opts...), nil
	case typeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false, fmt.Errorf("invalid float %q", raw)
		}
		return w.SetFloat64(key, f, opts...), nil
	case typeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid bool %q", raw)
		}
		return w.SetBool(key, b, opts...), nil
	case typeData:
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return false, fmt.Errorf("invalid base64 data: %w", err)
		}
		return w.Set(key, data, opts...), nil
	default:
		return false, fmt.Errorf("unknown type %q", typ)
	}
}

func getTyped(w *keychain.Wrapper, key, typ string, opts ...keychain.Option) (string, bool, error) {
	switch typ {
	case typeString, "":
		v, ok := w.String(key, opts...)
		return v, ok, nil
	case typeInt:
		n, ok := w.Int(key, opts...)
		return strconv.Itoa(n), ok, nil
	case typeFloat:
		f, ok := w.Float64(key, opts...)
		return strconv.FormatFloat(f, 'g', -1, 64), ok, nil
	case typeBool:
		b, ok := w.Bool(key, opts...)
		return strconv.FormatBool(b), ok, nil
	case typeData:
		data, ok := w.Data(key, opts...)
		return base64.StdEncoding.EncodeToString(data), ok, nil
	default:
		return "", false, fmt.Errorf("unknown type %q", typ)
	}
}

// accessibilityOptions turns an --accessibility name into a per-call option.
func accessibilityOptions(name string) ([]keychain.Option, error) {
	if name == "" {
		return nil, nil
	}
	a, err := keychain.ParseAccessibility(name)
	if err != nil {
		return nil, err
	}
	return []keychain.Option{keychain.WithAccessibility(a)}, nil
}
