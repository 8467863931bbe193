package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/cogbench/internal/engine"
)

var ErrMalformed = errors.New("malformed message")
var ErrUnknownType = errors.New("unknown message type")
var ErrInvalidPayload = errors.New("invalid message payload")

// Encode serializes a message. Colors are written in canonical hex and an
// empty benchmark is filled with DefaultBenchmark, so Encode(Decode(b)) == b
// for anything Encode produced.
func Encode(m Message) ([]byte, error) {
	benchmark := m.Benchmark
	if benchmark == "" {
		benchmark = DefaultBenchmark
	}

	var payload any
	switch m.Type {
	case TypeStateSync:
		if m.StateSync == nil {
			return nil, fmt.Errorf("%w: state_sync without payload", ErrInvalidPayload)
		}
		if err := validateStateSync(*m.StateSync); err != nil {
			return nil, err
		}
		payload = m.StateSync
	case TypeSelection:
		if m.Selection == nil {
			return nil, fmt.Errorf("%w: selection without payload", ErrInvalidPayload)
		}
		c, err := engine.ParseHex(m.Selection.SelectedColor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		payload = Selection{SelectedColor: c.Hex()}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	return json.Marshal(Envelope{Type: m.Type, Benchmark: benchmark, Data: data})
}

// wire shapes with pointer fields so missing keys are rejected
type stateSyncWire struct {
	UserID     *string `json:"user_id"`
	ColorIndex *int    `json:"color_index"`
	Screen     *string `json:"screen"`
}

type selectionWire struct {
	SelectedColor *string `json:"selected_color"`
}

// Decode parses an envelope and strictly decodes the payload its type names.
func Decode(b []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return Message{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	benchmark := env.Benchmark
	if benchmark == "" {
		benchmark = DefaultBenchmark
	}

	switch env.Type {
	case TypeStateSync:
		var w stateSyncWire
		if err := strictUnmarshal(env.Data, &w); err != nil {
			return Message{}, err
		}
		if w.UserID == nil || w.ColorIndex == nil || w.Screen == nil {
			return Message{}, fmt.Errorf("%w: state_sync missing field", ErrInvalidPayload)
		}
		p := StateSync{UserID: *w.UserID, ColorIndex: *w.ColorIndex, Screen: *w.Screen}
		if err := validateStateSync(p); err != nil {
			return Message{}, err
		}
		return NewStateSync(benchmark, p), nil

	case TypeSelection:
		var w selectionWire
		if err := strictUnmarshal(env.Data, &w); err != nil {
			return Message{}, err
		}
		if w.SelectedColor == nil {
			return Message{}, fmt.Errorf("%w: selection missing field", ErrInvalidPayload)
		}
		if _, err := engine.ParseHex(*w.SelectedColor); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return NewSelection(benchmark, Selection{SelectedColor: *w.SelectedColor}), nil

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func validateStateSync(p StateSync) error {
	if p.ColorIndex < 0 {
		return fmt.Errorf("%w: negative color_index %d", ErrInvalidPayload, p.ColorIndex)
	}
	if !engine.Screen(p.Screen).Valid() {
		return fmt.Errorf("%w: screen %q", ErrInvalidPayload, p.Screen)
	}
	return nil
}
