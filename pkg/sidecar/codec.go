// Package sidecar implements the gRPC client to the ML scanning sidecar:
// wire types, a JSON codec (standing in for protoc-generated stubs, since no
// protoc toolchain is available here), the circuit-breaker-gated connection
// cache, and the scan/cache gateway built on top of it.
package sidecar

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc/encoding.Codec over plain JSON. The sidecar
// speaks gRPC framing (length-prefixed messages over HTTP/2) but this
// module never generates or depends on .proto-compiled stubs, so every RPC
// is invoked with grpc.CallContentSubtype(jsonCodecName) against plain Go
// structs tagged for encoding/json.
type jsonCodec struct{}

const jsonCodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}
