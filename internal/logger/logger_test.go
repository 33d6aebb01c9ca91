package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "jo***@example.com",
		"ab@example.com":       "***@example.com",
		"not-an-email":         "***@***",
	}
	for in, want := range cases {
		assert.Equal(t, want, RedactEmail(in), in)
	}
}

func TestNewWithOutputWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("mailblast", "warn", &buf)

	log.Info("dropped")
	log.WithField("sent", 4).Warn("broadcast finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "broadcast finished", entry["message"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "mailblast", entry["service"])
	assert.EqualValues(t, 4, entry["sent"])
}
