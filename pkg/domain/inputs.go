package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Inputs carries the named argument values passed to a node function.
type Inputs map[string]any

// String returns the input as a string. Missing or mistyped values return "".
func (in Inputs) String(name string) string {
	s, _ := in[name].(string)
	return s
}

// Int returns the input as an int, coercing float64 (the JSON number shape).
func (in Inputs) Int(name string) int {
	switch v := in[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Bool returns the input as a bool. Missing or mistyped values return false.
func (in Inputs) Bool(name string) bool {
	b, _ := in[name].(bool)
	return b
}

// Decode binds the inputs onto a node author's struct using mapstructure,
// honoring `mapstructure` field tags.
func (in Inputs) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build input decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(in)); err != nil {
		return fmt.Errorf("failed to decode inputs: %w", err)
	}
	return nil
}

// Stream is a lazy, finite, non-restartable sequence of chunks returned by a
// node in place of a single value. The engine consumes it fully, surfacing
// each chunk as a ChunkEvent and folding all chunks into one final value:
// string chunks concatenate, other chunks collect into an ordered []any.
type Stream <-chan any
