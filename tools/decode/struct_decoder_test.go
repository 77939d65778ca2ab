package decode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	To     string    `json:"to"`
	Count  int64     `json:"count"`
	Active bool      `json:"active"`
	Time   time.Time `json:"time"`
	Inner  struct {
		Text string `json:"text"`
	} `json:"inner"`
}

func TestDecodeStruct(t *testing.T) {
	raw := json.RawMessage(`{"to":"u2","count":"3","active":"true","time":1700000000000,"inner":{"text":"hi"}}`)
	p, err := DecodeStruct[payload](raw)
	require.NoError(t, err)
	assert.Equal(t, "u2", p.To)
	assert.Equal(t, int64(3), p.Count)
	assert.True(t, p.Active)
	assert.Equal(t, int64(1700000000000), p.Time.UnixMilli())
	assert.Equal(t, "hi", p.Inner.Text)

	p, err = DecodeStruct[payload](map[string]any{"time": "2024-01-02T03:04:05Z"})
	require.NoError(t, err)
	assert.Equal(t, 2024, p.Time.Year())
}

func TestDecodeStructRejects(t *testing.T) {
	for _, raw := range []any{nil, []byte(""), "null", "[1,2]", 42} {
		_, err := DecodeStruct[payload](raw)
		assert.Error(t, err, "%v", raw)
	}

	_, err := DecodeStruct[payload](`{"extra":1}`, Options{ErrorUnused: true})
	assert.Error(t, err)
}
