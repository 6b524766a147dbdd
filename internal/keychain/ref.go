package keychain

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var refPrefix = []byte("kc1:")

type refPayload struct {
	Class       EntryClass `cbor:"1,keyasint"`
	Service     string     `cbor:"2,keyasint"`
	AccessGroup string     `cbor:"3,keyasint,omitempty"`
	Account     []byte     `cbor:"4,keyasint"`
}

// EncodePersistentRef mints a self-describing reference for backends whose
// platform binding exposes no native persistent reference.
func EncodePersistentRef(a Attributes) ([]byte, error) {
	raw, err := cborEnc.Marshal(refPayload{
		Class:       a.Class,
		Service:     a.Service,
		AccessGroup: a.AccessGroup,
		Account:     a.Account,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding persistent ref: %w", err)
	}
	out := append([]byte(nil), refPrefix...)
	return base64.RawURLEncoding.AppendEncode(out, raw), nil
}

// DecodePersistentRef recovers the entry identity from a reference minted
// by EncodePersistentRef.
func DecodePersistentRef(ref []byte) (Attributes, error) {
	body, ok := bytes.CutPrefix(ref, refPrefix)
	if !ok {
		return Attributes{}, fmt.Errorf("persistent ref: unknown format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(body))
	if err != nil {
		return Attributes{}, fmt.Errorf("persistent ref: %w", err)
	}
	var p refPayload
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return Attributes{}, fmt.Errorf("persistent ref: %w", err)
	}
	return Attributes{
		Class:       p.Class,
		Service:     p.Service,
		AccessGroup: p.AccessGroup,
		Account:     p.Account,
	}, nil
}
