package metaeditor

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Record is a metadata record that satisfied its schema when it was built.
// Records are immutable: accessors return copies and updates produce new records.
type Record struct {
	schema RecordSchema
	data   map[string]any
}

// NewRecord validates input against schema and freezes it.
//
// input may be a map, raw JSON ([]byte, json.RawMessage or string), another
// *Record, or any value encoding/json can marshal, such as a generated model.
func NewRecord(schema RecordSchema, input any) (*Record, error) {
	if schema == nil {
		return nil, NewInternalError("record schema is nil", nil)
	}
	data, err := decodeRecordInput(input)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(data); err != nil {
		return nil, err
	}
	return &Record{schema: schema, data: data}, nil
}

func decodeRecordInput(input any) (map[string]any, error) {
	var raw []byte
	switch in := input.(type) {
	case nil:
		return nil, NewValidationError("", "record input is nil")
	case *Record:
		if in == nil {
			return nil, NewValidationError("", "record input is nil")
		}
		return in.Data(), nil
	case []byte:
		raw = in
	case json.RawMessage:
		raw = in
	case string:
		raw = []byte(in)
	default:
		b, err := json.Marshal(in)
		if err != nil {
			return nil, NewInvalidJSONError(err)
		}
		raw = b
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&decoded); err != nil {
		return nil, NewInvalidJSONError(err)
	}
	if dec.More() {
		return nil, NewInvalidJSONError(nil).WithDetail("reason", "trailing data after JSON value")
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, NewValidationError("", "record must be a JSON object")
	}
	return obj, nil
}

// normalizeJSON converts v into the generic shapes produced by encoding/json.
func normalizeJSON(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, NewInvalidJSONError(err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, NewInvalidJSONError(err)
	}
	return out, nil
}

// SchemaName returns the name of the schema the record was validated against.
func (r *Record) SchemaName() string {
	return r.schema.Name()
}

// Schema returns the schema the record was validated against.
func (r *Record) Schema() RecordSchema {
	return r.schema
}

// Data returns a deep copy of the record contents.
func (r *Record) Data() map[string]any {
	return deepCopy(r.data).(map[string]any)
}

// Get returns a copy of the value at the given object path.
func (r *Record) Get(path ...string) (any, bool) {
	var cur any = r.data
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return deepCopy(cur), true
}

// Idno returns the record's "idno" value, the identifier every editor project carries.
func (r *Record) Idno() string {
	s, _ := r.data["idno"].(string)
	return s
}

// MarshalJSON encodes the record contents.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.data)
}

// Equal reports whether both records share a schema name and contents.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.schema.Name() == other.schema.Name() && reflect.DeepEqual(r.data, other.data)
}

// With returns a new validated record where every non-nil value in updates
// replaces the top-level key of the same name.
func (r *Record) With(updates map[string]any) (*Record, error) {
	data := r.Data()
	for key, value := range updates {
		if isNilValue(value) {
			continue
		}
		data[key] = value
	}
	return NewRecord(r.schema, data)
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
