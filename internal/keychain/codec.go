package keychain

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Codec turns values into stored bytes and back. Callers pick one per value
// type when using SetObject and Object.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// cborEnc uses the core deterministic encoding so identical values produce
// identical bytes.
var cborEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type yamlCodec struct{}

func (yamlCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (yamlCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

var (
	// CBOR is a compact binary codec and the one numbers are stored with.
	CBOR Codec = cborCodec{}
	// JSON stores values as JSON text.
	JSON Codec = jsonCodec{}
	// YAML stores values as YAML text.
	YAML Codec = yamlCodec{}
)
