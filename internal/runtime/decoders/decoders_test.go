package decoders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"csv", "json", "protobuf-struct", "protojson-struct"}, reg.Names())

	for _, name := range reg.Names() {
		dec, err := reg.Instantiate(name)
		require.NoError(t, err)
		assert.NotNil(t, dec)
	}
}

func TestJSONDecoder(t *testing.T) {
	out, err := JSON{}.Decode([]byte(`{"reading":42,"ratio":0.5,"big":9007199254740993,"tags":[1,"a"],"meta":{"n":3}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(42), out["reading"])
	assert.Equal(t, 0.5, out["ratio"])
	assert.Equal(t, int64(9007199254740993), out["big"])
	assert.Equal(t, []any{int64(1), "a"}, out["tags"])
	assert.Equal(t, map[string]any{"n": int64(3)}, out["meta"])
}

func TestJSONDecoderRejects(t *testing.T) {
	for _, body := range []string{`[1,2]`, `null`, `{"a":`, ``} {
		_, err := JSON{}.Decode([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestCSVDecoder(t *testing.T) {
	out, err := CSV{}.Decode([]byte("meter,kwh\nm-1, 12.5\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"meter": "m-1", "kwh": "12.5"}, out)

	out, err = CSV{Columns: []string{"a", "b"}, Comma: ';'}.Decode([]byte("1;2"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, out)
}

func TestCSVDecoderRejects(t *testing.T) {
	tests := map[string]struct {
		dec  CSV
		body string
		want string
	}{
		"empty":         {CSV{}, "", "read header"},
		"header only":   {CSV{}, "a,b\n", "no data row"},
		"width":         {CSV{Columns: []string{"a"}}, "1,2", "2 values for 1 columns"},
		"two data rows": {CSV{Columns: []string{"a"}}, "1\n2\n", "more than one data row"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tt.dec.Decode([]byte(tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestProtobufStructDecoder(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"meter": "m-1", "kwh": 12.5, "ok": true})
	require.NoError(t, err)
	raw, err := proto.Marshal(s)
	require.NoError(t, err)

	out, err := ProtobufStruct{}.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"meter": "m-1", "kwh": 12.5, "ok": true}, out)

	out, err = ProtobufStruct{JSON: true}.Decode([]byte(`{"meter":"m-2"}`))
	require.NoError(t, err)
	assert.Equal(t, "m-2", out["meter"])

	_, err = ProtobufStruct{}.Decode([]byte{0xff, 0xff})
	assert.Error(t, err)
}
