package decoders

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufStruct decodes a google.protobuf.Struct, binary encoded unless JSON
// is set.
type ProtobufStruct struct {
	JSON bool
}

func (p ProtobufStruct) Decode(data []byte) (map[string]any, error) {
	var s structpb.Struct
	var err error
	if p.JSON {
		err = protojson.Unmarshal(data, &s)
	} else {
		err = proto.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
