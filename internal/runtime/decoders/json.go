package decoders

import (
	"encoding/json"
	"errors"

	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
)

var errNotObject = errors.New("json: payload is not an object")

// JSON decodes a JSON object. Integral numbers become int64, other numbers float64.
type JSON struct{}

func (JSON) Decode(data []byte) (map[string]any, error) {
	var record map[string]any
	if err := jsoncodec.UnmarshalNumbers(data, &record); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errNotObject
	}
	for k, v := range record {
		record[k] = normalizeNumbers(v)
	}
	return record, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	default:
		return v
	}
}
