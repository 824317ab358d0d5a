// Package decoders contains the decoders compiled into decodeflow. Each is
// registered on a loader.Registry under a well-known entry point so catalog
// entries can reference it without shipping code.
package decoders

import "github.com/drblury/decodeflow/internal/runtime/loader"

// Entry points of the built-in decoders.
const (
	EntryPointJSON           = "json"
	EntryPointCSV            = "csv"
	EntryPointProtobufStruct = "protobuf-struct"
	EntryPointProtoJSON      = "protojson-struct"
)

// RegisterBuiltins registers every built-in decoder on reg.
func RegisterBuiltins(reg *loader.Registry) {
	reg.Register(EntryPointJSON, func() (loader.Decoder, error) { return JSON{}, nil })
	reg.Register(EntryPointCSV, func() (loader.Decoder, error) { return CSV{}, nil })
	reg.Register(EntryPointProtobufStruct, func() (loader.Decoder, error) { return ProtobufStruct{}, nil })
	reg.Register(EntryPointProtoJSON, func() (loader.Decoder, error) { return ProtobufStruct{JSON: true}, nil })
}

// NewRegistry returns a registry holding the built-ins.
func NewRegistry() *loader.Registry {
	reg := loader.NewRegistry()
	RegisterBuiltins(reg)
	return reg
}
