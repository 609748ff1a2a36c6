package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/scootermap-go/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("resolution", 8).Info("snapshot replaced")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "snapshot replaced", entry["msg"])
	assert.Equal(t, float64(8), entry["resolution"])
}

func TestNewInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput(config.LoggingConfig{Level: "loud", Format: "text"}, &buf)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "Invalid log level")
}
