package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
)

// recordShape is the structural contract for an extracted record: a flat
// object whose values are scalars, null, or arrays of scalars.
const recordShape = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "anyOf": [
      {"type": ["string", "number", "boolean", "null"]},
      {"type": "array", "items": {"type": ["string", "number", "boolean"]}}
    ]
  }
}`

var shapeSchema = mustSchema(recordShape)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("record shape schema: %v", err))
	}
	return s
}

// ParseJSON decodes a record from a JSON document. Null values are treated
// as absent; numbers and booleans keep their literal text.
func ParseJSON(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return Empty(), nil
	}

	result, err := shapeSchema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "record is not valid JSON", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Record{}, assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "record has an unsupported shape").
			WithContext(strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "failed to decode record", err)
	}

	fields := make(map[string]Value, len(raw))
	for key, v := range raw {
		if v == nil {
			continue
		}
		if items, ok := v.([]interface{}); ok {
			seq := make([]string, 0, len(items))
			for _, item := range items {
				seq = append(seq, scalarText(item))
			}
			fields[key] = Sequence(seq...)
			continue
		}
		fields[key] = Scalar(scalarText(v))
	}
	return Record{fields: fields}, nil
}

// ReadJSON reads the whole stream and parses it with ParseJSON.
func ReadJSON(r io.Reader) (Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	return ParseJSON(data)
}

func scalarText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
