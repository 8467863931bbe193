package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	cases := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{in: "#FF3B30", want: RGB(0xFF, 0x3B, 0x30)},
		{in: "ff3b30", want: RGB(0xFF, 0x3B, 0x30)},
		{in: "#000000", want: Black},
		{in: "#FFF", wantErr: true},
		{in: "#GG0000", wantErr: true},
		{in: "", wantErr: true},
		{in: "#FF3B3000", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseHex(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidColor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHexRoundTripsEveryChannelValue(t *testing.T) {
	for v := 0; v < 256; v++ {
		c := RGB(uint8(v), uint8(255-v), uint8(v*7))
		back, err := ParseHex(c.Hex())
		if err != nil || back != c {
			t.Fatalf("round trip %v: got %v, err %v", c, back, err)
		}
	}
}

func TestColorJSON(t *testing.T) {
	data, err := json.Marshal(RGB(0, 0, 0xFF))
	require.NoError(t, err)
	assert.Equal(t, `"#0000FF"`, string(data))

	var c Color
	require.NoError(t, json.Unmarshal([]byte(`"#af52de"`), &c))
	assert.Equal(t, DefaultPalette[4], c)

	assert.Error(t, json.Unmarshal([]byte(`12`), &c))
}

func TestParsePalette(t *testing.T) {
	p, err := ParsePalette(DefaultPalette.Hexes())
	require.NoError(t, err)
	assert.Equal(t, DefaultPalette, p)

	_, err = ParsePalette(nil)
	assert.ErrorIs(t, err, ErrEmptyPalette)

	_, err = ParsePalette([]string{"#FFFFFF", "nope"})
	assert.ErrorIs(t, err, ErrInvalidColor)
}
