package domainerrors

import (
	"bytes"
	"encoding/json"
)

// FieldErrors collects per-field messages, remembering the order in which fields
// first failed so that "the first reported error" is stable on the wire.
type FieldErrors struct {
	order    []string
	messages map[string][]string
}

// Add records msg against field.
func (f *FieldErrors) Add(field, msg string) {
	if f.messages == nil {
		f.messages = make(map[string][]string)
	}
	if _, ok := f.messages[field]; !ok {
		f.order = append(f.order, field)
	}
	f.messages[field] = append(f.messages[field], msg)
}

// Empty reports whether no field failed.
func (f *FieldErrors) Empty() bool { return f == nil || len(f.order) == 0 }

// Fields returns failed fields in report order.
func (f *FieldErrors) Fields() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.order...)
}

// Get returns the messages recorded for field.
func (f *FieldErrors) Get(field string) []string {
	if f == nil {
		return nil
	}
	return f.messages[field]
}

// First returns the first message of the first failed field.
func (f *FieldErrors) First() (field, msg string, ok bool) {
	if f.Empty() {
		return "", "", false
	}
	field = f.order[0]
	return field, f.messages[field][0], true
}

// MarshalJSON writes the object with keys in report order.
func (f FieldErrors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		msgs, err := json.Marshal(f.messages[field])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(msgs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ValidationError is a client-correctable, field-scoped failure.
type ValidationError struct {
	Fields *FieldErrors
}

func (e *ValidationError) Error() string {
	if _, msg, ok := e.Fields.First(); ok {
		return msg
	}
	return "validation failed"
}

// Validation builds a ValidationError, or returns nil when fields is empty.
func Validation(fields *FieldErrors) error {
	if fields.Empty() {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// FieldError is shorthand for a single-field ValidationError.
func FieldError(field, msg string) error {
	fe := &FieldErrors{}
	fe.Add(field, msg)
	return &ValidationError{Fields: fe}
}
