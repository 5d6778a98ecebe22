package types

import (
	"bytes"
	"encoding/json"
)

// Optional is a tri-state JSON field: absent, explicit null, or a value.
//
// The zero value is absent. Decoding a JSON null marks the field present
// with Null set; decoding any other value marks it present with Value set.
type Optional[T any] struct {
	Present bool
	Null    bool
	Value   T
}

// IsSet reports whether the field was sent with a non-null value.
func (o Optional[T]) IsSet() bool {
	return o.Present && !o.Null
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}
