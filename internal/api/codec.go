package api

import (
	"bytes"
	"encoding/json"

	"connectrpc.com/connect"
)

var _ connect.Codec = Codec{}

// Codec marshals RPC messages as JSON. It replaces connect's protobuf JSON
// codec under the same name, so clients send application/json.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal keeps numeric row cells as json.Number so integers such as
// reporting years survive without float rounding.
func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(msg)
}
