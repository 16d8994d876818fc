// ABOUTME: Envelope type carrying handshake state between operations
// ABOUTME: Supports absent-vs-null lookup, deep clone, and protobuf Struct conversion

package envelope

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// KeyNextOperation is the flow-control key naming the next operation.
	KeyNextOperation = "next_operation"

	// FlowComplete is the completion sentinel stored under KeyNextOperation.
	FlowComplete = "flow_complete"
)

var (
	// ErrMissingNextOperation indicates the flow-control key is absent.
	ErrMissingNextOperation = errors.New("next_operation not set")

	// ErrInvalidNextOperation indicates the flow-control key is not a non-empty string.
	ErrInvalidNextOperation = errors.New("next_operation is not a string")
)

// Envelope is the request/response document exchanged by handshake operations.
type Envelope map[string]any

// New returns an empty envelope.
func New() Envelope {
	return Envelope{}
}

// Set inserts or overwrites key. Nested Envelopes are stored as map[string]any
// so the value stays convertible to the wire form.
func (e Envelope) Set(key string, value any) {
	e[key] = normalize(value)
}

// Delete removes key if present.
func (e Envelope) Delete(key string) {
	delete(e, key)
}

// Lookup returns the value stored under key. The boolean is false only when
// the key is absent; a key present with a nil value returns (nil, true).
func (e Envelope) Lookup(key string) (any, bool) {
	v, ok := e[key]
	return v, ok
}

// Has reports whether key is present, regardless of its value.
func (e Envelope) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// String returns the string stored under key. It returns false when the key
// is absent or holds a non-string value.
func (e Envelope) String(key string) (string, bool) {
	s, ok := e[key].(string)
	return s, ok
}

// Int64 returns the integer stored under key. Numbers decoded from the wire
// form arrive as float64 and are accepted when they hold a whole value.
func (e Envelope) Int64(key string) (int64, bool) {
	switch v := e[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// Sub returns the nested envelope stored under key.
func (e Envelope) Sub(key string) (Envelope, bool) {
	switch v := e[key].(type) {
	case map[string]any:
		return Envelope(v), true
	case Envelope:
		return v, true
	default:
		return nil, false
	}
}

// Clone returns a deep copy of the envelope. Mutating the copy, including its
// nested maps and slices, never affects the receiver.
func (e Envelope) Clone() Envelope {
	if e == nil {
		return Envelope{}
	}
	out := make(Envelope, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

// NextOperation reads the flow-control key.
func (e Envelope) NextOperation() (string, error) {
	v, ok := e[KeyNextOperation]
	if !ok {
		return "", ErrMissingNextOperation
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: got %T", ErrInvalidNextOperation, v)
	}
	return name, nil
}

// WithNextOperation returns a clone of e with the flow-control key set to name.
func (e Envelope) WithNextOperation(name string) Envelope {
	out := e.Clone()
	out[KeyNextOperation] = name
	return out
}

// Complete reports whether the flow-control key holds the completion sentinel.
func (e Envelope) Complete() bool {
	name, err := e.NextOperation()
	return err == nil && name == FlowComplete
}

// ToProto converts the envelope to its wire form.
func (e Envelope) ToProto() (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any(e.Clone()))
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return s, nil
}

// FromProto converts a wire-form struct back into an envelope. A nil struct
// yields an empty envelope.
func FromProto(s *structpb.Struct) Envelope {
	if s == nil {
		return Envelope{}
	}
	return Envelope(s.AsMap())
}

func normalize(v any) any {
	switch t := v.(type) {
	case Envelope:
		return map[string]any(t)
	case []Envelope:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = map[string]any(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case Envelope:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
