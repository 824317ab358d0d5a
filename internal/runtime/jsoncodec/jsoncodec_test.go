package jsoncodec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wrapper struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Data    []byte `json:"data"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := wrapper{ID: "meter", Version: 3, Data: []byte("raw")}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":"cmF3"`)

	var out wrapper
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	indented, err := MarshalIndent(in, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(indented), "\n  \"id\""))
}

func TestUnmarshalNumbersKeepsPrecision(t *testing.T) {
	var out map[string]any
	require.NoError(t, UnmarshalNumbers([]byte(`{"counter": 9007199254740993}`), &out))

	n, ok := out["counter"].(json.Number)
	require.True(t, ok, "expected json.Number, got %T", out["counter"])
	assert.Equal(t, "9007199254740993", n.String())
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := wrapper{ID: "stream", Version: 7}

	require.NoError(t, Encode(buf, payload))

	var decoded wrapper
	require.NoError(t, Decode(buf, &decoded))
	assert.Equal(t, payload, decoded)
}
