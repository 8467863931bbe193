package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []Message{
		NewStateSync("Passthrough", StateSync{UserID: "a", ColorIndex: 4, Screen: "VR"}),
		NewStateSync("Passthrough", StateSync{UserID: "", ColorIndex: 0, Screen: ""}),
		NewStateSync("Other", StateSync{UserID: "<ü&>", ColorIndex: 2, Screen: "complete"}),
		NewSelection("Passthrough", Selection{SelectedColor: "#0000FF"}),
		NewSelection("Passthrough", Selection{SelectedColor: "#AF52DE"}),
	}

	for _, m := range msgs {
		t.Run(string(m.Type), func(t *testing.T) {
			b, err := Encode(m)
			require.NoError(t, err)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, m, got)

			again, err := Encode(got)
			require.NoError(t, err)
			assert.Equal(t, string(b), string(again))
		})
	}
}

func TestEncodeCanonicalizesColorAndBenchmark(t *testing.T) {
	b, err := Encode(NewSelection("", Selection{SelectedColor: "0000ff"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"selection","benchmark":"Passthrough","data":{"selected_color":"#0000FF"}}`, string(b))
}

func TestShapesNeverCrossDecode(t *testing.T) {
	syncBytes, err := Encode(NewStateSync("", StateSync{UserID: "a", ColorIndex: 1, Screen: "VR"}))
	require.NoError(t, err)
	selBytes, err := Encode(NewSelection("", Selection{SelectedColor: "#123456"}))
	require.NoError(t, err)

	m, err := Decode(syncBytes)
	require.NoError(t, err)
	assert.Equal(t, TypeStateSync, m.Type)
	assert.Nil(t, m.Selection)

	m, err = Decode(selBytes)
	require.NoError(t, err)
	assert.Equal(t, TypeSelection, m.Type)
	assert.Nil(t, m.StateSync)

	// swap the tags: each payload must be rejected under the other type
	_, err = Decode([]byte(`{"type":"selection","data":{"user_id":"a","color_index":1,"screen":"VR"}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = Decode([]byte(`{"type":"state_sync","data":{"selected_color":"#123456"}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"missing data", `{"type":"selection"}`, ErrMalformed},
		{"null data", `{"type":"selection","data":null}`, ErrMalformed},
		{"no tag (legacy shape)", `{"username":"a","colorIndex":1,"screen":"VR"}`, ErrMalformed},
		{"unknown type", `{"type":"hello","data":{}}`, ErrUnknownType},
		{"negative index", `{"type":"state_sync","data":{"user_id":"a","color_index":-1,"screen":"VR"}}`, ErrInvalidPayload},
		{"unknown screen", `{"type":"state_sync","data":{"user_id":"a","color_index":1,"screen":"modeVR"}}`, ErrInvalidPayload},
		{"missing field", `{"type":"state_sync","data":{"user_id":"a","screen":"VR"}}`, ErrInvalidPayload},
		{"bad hex", `{"type":"selection","data":{"selected_color":"blue"}}`, ErrInvalidPayload},
		{"wrong field type", `{"type":"selection","data":{"selected_color":255}}`, ErrInvalidPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncodeRejectsInvalidMessages(t *testing.T) {
	_, err := Encode(Message{Type: TypeStateSync})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(NewSelection("", Selection{SelectedColor: "#12"}))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(Message{Type: "nope"})
	assert.ErrorIs(t, err, ErrUnknownType)
}
