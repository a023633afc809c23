package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLogger(t *testing.T) {
	level := "info"
	log := NewLogrus(level, os.Stdout)

	assert.Equal(t, log.level, level)
}

func TestGetLogger(t *testing.T) {
	log := NewLogrus("info", os.Stdout)
	logger := log.Get("Testing")

	assert.Equal(t, logger.Logger.Out, os.Stdout)
	assert.Equal(t, "Testing", logger.Data["Context"])
}

func TestGetLoggerSharesUnderlyingLogger(t *testing.T) {
	log := NewLogrus("debug", os.Stdout)

	assert.Same(t, log.Get("A").Logger, log.Get("B").Logger)
	assert.Equal(t, logrus.DebugLevel, log.Get("A").Logger.GetLevel())
}

func TestGetLoggerWhenInvalidLevelThenInfo(t *testing.T) {
	log := NewLogrus("loud", os.Stdout)

	assert.Equal(t, logrus.InfoLevel, log.Get("Testing").Logger.GetLevel())
}

func TestJSONLogger(t *testing.T) {
	var output bytes.Buffer
	NewJSONLogrus("info", &output).Get("PacketParser").Info("packet complete")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &line))
	assert.Equal(t, "PacketParser", line["Context"])
	assert.Equal(t, "packet complete", line["msg"])
}
