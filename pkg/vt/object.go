package vt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Object is a VirusTotal API object: a typed, optionally identified entity
// with an ordered set of attributes and a separate read-only set of context
// attributes.
type Object struct {
	objType           string
	id                string
	attributes        map[string]interface{}
	order             []string
	contextAttributes map[string]interface{}
}

// NewObject creates an object of the given type. id may be empty for
// objects that have not been created yet. Attributes are added in sorted
// key order.
func NewObject(objType, id string, attributes map[string]interface{}) *Object {
	obj := &Object{
		objType:           objType,
		id:                id,
		attributes:        make(map[string]interface{}, len(attributes)),
		contextAttributes: map[string]interface{}{},
	}

	for _, name := range sortedKeys(attributes) {
		obj.Set(name, attributes[name])
	}

	return obj
}

// ObjectFromMap builds an object from a decoded JSON value, typically the
// "data" field of an API response.
func ObjectFromMap(data interface{}) (*Object, error) {
	fields, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w, got: %s", ErrNotAMap, kindOf(data))
	}

	for _, field := range []string{"type", "id", "attributes"} {
		if _, ok := fields[field]; !ok {
			return nil, fmt.Errorf("%w: object %s", ErrMissingField, field)
		}
	}

	objType, ok := fields["type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: object type must be a string", ErrInvalidObject)
	}

	id, ok := fields["id"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: object id must be a string", ErrInvalidObject)
	}

	var attributes map[string]interface{}

	if raw := fields["attributes"]; raw != nil {
		attributes, ok = raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: object attributes must be a dictionary", ErrInvalidObject)
		}
	}

	obj := NewObject(objType, id, attributes)

	if raw, present := fields["context_attributes"]; present && raw != nil {
		contextAttributes, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: object context attributes must be a dictionary", ErrInvalidObject)
		}

		obj.contextAttributes = contextAttributes
	}

	return obj, nil
}

// ObjectFromJSON builds an object from its JSON encoding. Unlike
// ObjectFromMap, attribute order is preserved as it appears on the wire.
func ObjectFromJSON(data []byte) (*Object, error) {
	obj := &Object{}

	err := obj.UnmarshalJSON(data)
	if err != nil {
		return nil, err
	}

	return obj, nil
}

// UnmarshalJSON implements json.Unmarshaler with the same validation as
// ObjectFromMap. Numbers are decoded as json.Number.
func (o *Object) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage

	err := json.Unmarshal(data, &fields)
	if err != nil || fields == nil {
		return fmt.Errorf("%w, got: %s", ErrNotAMap, rawKind(data))
	}

	for _, field := range []string{"type", "id", "attributes"} {
		if _, ok := fields[field]; !ok {
			return fmt.Errorf("%w: object %s", ErrMissingField, field)
		}
	}

	var objType, id string

	if rawKind(fields["type"]) != "string" || json.Unmarshal(fields["type"], &objType) != nil {
		return fmt.Errorf("%w: object type must be a string", ErrInvalidObject)
	}

	if rawKind(fields["id"]) != "string" || json.Unmarshal(fields["id"], &id) != nil {
		return fmt.Errorf("%w: object id must be a string", ErrInvalidObject)
	}

	decoded := Object{
		objType:           objType,
		id:                id,
		attributes:        map[string]interface{}{},
		contextAttributes: map[string]interface{}{},
	}

	err = decodeOrdered(fields["attributes"], decoded.Set)
	if err != nil {
		return fmt.Errorf("%w: object attributes must be a dictionary", ErrInvalidObject)
	}

	if raw, ok := fields["context_attributes"]; ok {
		err = decodeOrdered(raw, func(name string, value interface{}) {
			decoded.contextAttributes[name] = value
		})
		if err != nil {
			return fmt.Errorf("%w: object context attributes must be a dictionary", ErrInvalidObject)
		}
	}

	*o = decoded

	return nil
}

// Type returns the object type.
func (o *Object) Type() string {
	return o.objType
}

// ID returns the object identifier, empty for objects without one.
func (o *Object) ID() string {
	return o.id
}

// ContextAttributes returns a copy of the context attributes.
func (o *Object) ContextAttributes() map[string]interface{} {
	out := make(map[string]interface{}, len(o.contextAttributes))
	for name, value := range o.contextAttributes {
		out[name] = value
	}

	return out
}

// Attributes returns the attribute names in order.
func (o *Object) Attributes() []string {
	return append([]string(nil), o.order...)
}

// Has reports whether the attribute is present.
func (o *Object) Has(name string) bool {
	_, ok := o.attributes[name]

	return ok
}

// Get returns the value of an attribute.
func (o *Object) Get(name string) (interface{}, error) {
	value, ok := o.attributes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttributeNotFound, name)
	}

	return value, nil
}

// Set adds or replaces an attribute. New attributes are appended to the
// attribute order.
func (o *Object) Set(name string, value interface{}) {
	if o.attributes == nil {
		o.attributes = map[string]interface{}{}
	}

	if _, ok := o.attributes[name]; !ok {
		o.order = append(o.order, name)
	}

	o.attributes[name] = value
}

// Delete removes an attribute if present.
func (o *Object) Delete(name string) {
	if _, ok := o.attributes[name]; !ok {
		return
	}

	delete(o.attributes, name)

	for i, existing := range o.order {
		if existing == name {
			o.order = append(o.order[:i], o.order[i+1:]...)

			break
		}
	}
}

// GetString returns a string attribute.
func (o *Object) GetString(name string) (string, error) {
	value, err := o.Get(name)
	if err != nil {
		return "", err
	}

	s, ok := value.(string)
	if !ok {
		return "", typeMismatch(name, value)
	}

	return s, nil
}

// GetInt64 returns an integer attribute.
func (o *Object) GetInt64(name string) (int64, error) {
	value, err := o.Get(name)
	if err != nil {
		return 0, err
	}

	switch v := value.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, typeMismatch(name, value)
		}

		return n, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, typeMismatch(name, value)
		}

		return int64(v), nil
	default:
		return 0, typeMismatch(name, value)
	}
}

// GetFloat64 returns a numeric attribute as float64.
func (o *Object) GetFloat64(name string) (float64, error) {
	value, err := o.Get(name)
	if err != nil {
		return 0, err
	}

	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, typeMismatch(name, value)
		}

		return f, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, typeMismatch(name, value)
	}
}

// GetBool returns a boolean attribute.
func (o *Object) GetBool(name string) (bool, error) {
	value, err := o.Get(name)
	if err != nil {
		return false, err
	}

	b, ok := value.(bool)
	if !ok {
		return false, typeMismatch(name, value)
	}

	return b, nil
}

// GetTime returns a date attribute. VirusTotal encodes dates as seconds
// since the Unix epoch.
func (o *Object) GetTime(name string) (time.Time, error) {
	seconds, err := o.GetInt64(name)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(seconds, 0).UTC(), nil
}

// GetMap returns a dictionary attribute.
func (o *Object) GetMap(name string) (map[string]interface{}, error) {
	value, err := o.Get(name)
	if err != nil {
		return nil, err
	}

	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, typeMismatch(name, value)
	}

	return m, nil
}

// GetSlice returns a list attribute.
func (o *Object) GetSlice(name string) ([]interface{}, error) {
	value, err := o.Get(name)
	if err != nil {
		return nil, err
	}

	s, ok := value.([]interface{})
	if !ok {
		return nil, typeMismatch(name, value)
	}

	return s, nil
}

// ToMap returns the wire representation of the object. Empty id,
// attributes and context attributes are omitted.
func (o *Object) ToMap() map[string]interface{} {
	out := map[string]interface{}{"type": o.objType}

	if o.id != "" {
		out["id"] = o.id
	}

	if len(o.attributes) > 0 {
		attributes := make(map[string]interface{}, len(o.attributes))
		for name, value := range o.attributes {
			attributes[name] = value
		}

		out["attributes"] = attributes
	}

	if len(o.contextAttributes) > 0 {
		out["context_attributes"] = o.ContextAttributes()
	}

	return out
}

// MarshalJSON implements json.Marshaler. Attributes are written in order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"type":`)

	err := writeJSON(&buf, o.objType)
	if err != nil {
		return nil, err
	}

	if o.id != "" {
		buf.WriteString(`,"id":`)

		err = writeJSON(&buf, o.id)
		if err != nil {
			return nil, err
		}
	}

	if len(o.order) > 0 {
		buf.WriteString(`,"attributes":{`)

		for i, name := range o.order {
			if i > 0 {
				buf.WriteByte(',')
			}

			err = writeJSON(&buf, name)
			if err != nil {
				return nil, err
			}

			buf.WriteByte(':')

			err = writeJSON(&buf, o.attributes[name])
			if err != nil {
				return nil, fmt.Errorf("encoding attribute %s: %w", name, err)
			}
		}

		buf.WriteByte('}')
	}

	if len(o.contextAttributes) > 0 {
		buf.WriteString(`,"context_attributes":`)

		err = writeJSON(&buf, o.contextAttributes)
		if err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	buf.Write(data)

	return nil
}

// decodeOrdered walks a JSON object and calls set for each member in wire
// order. A JSON null is an empty object.
func decodeOrdered(raw json.RawMessage, set func(name string, value interface{})) error {
	if rawKind(raw) == "null" {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	token, err := decoder.Token()
	if err != nil {
		return err
	}

	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return ErrNotAMap
	}

	for decoder.More() {
		token, err = decoder.Token()
		if err != nil {
			return err
		}

		name, _ := token.(string)

		var value interface{}

		err = decoder.Decode(&value)
		if err != nil {
			return err
		}

		set(name, value)
	}

	return nil
}

func typeMismatch(name string, value interface{}) error {
	return fmt.Errorf("%w: %s is %s", ErrAttributeType, name, kindOf(value))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// kindOf names the JSON kind of a decoded value.
func kindOf(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int64, int32:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// rawKind names the JSON kind of an encoded value from its first byte.
func rawKind(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "empty"
	}

	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
