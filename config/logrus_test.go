package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(&buf, "warn", "json")
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = newLogger(&buf, "verbose", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestLogError_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	LogError(logger, "billrun", "TwoPartTariff", "processing bill run", map[string]any{"bill_run_id": "br-1"}, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "billrun", entry["module"])
	assert.Equal(t, "TwoPartTariff", entry["funcName"])
	assert.Equal(t, "processing bill run", entry["context"])
	assert.Equal(t, map[string]any{"bill_run_id": "br-1"}, entry["data"])
}

func TestLogError_NilData(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	LogError(logger, "api", "handleError", "request", nil, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "data")
}
