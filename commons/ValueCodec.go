package commons

import (
	"github.com/fxamacker/cbor/v2"
)

// ValueCodec - Converts between application values and the opaque byte
// sequences that travel through the DHT. The engine itself only ever sees
// bytes; typing is applied at the client façade. This interface lives here
// rather than in the dht package so applications and commands can provide
// implementations without importing the node itself.
type ValueCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// CBORValueCodec - The default ValueCodec, encoding values as CBOR.
type CBORValueCodec struct{}

func (CBORValueCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBORValueCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
