package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"blog_migrator/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSON(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	logger.InitWithOutput(&buf)
	require.Equal(t, logrus.DebugLevel, logger.Log.GetLevel())

	logger.Service("pipeline").WithField("post_id", "p1").Info("post rewritten")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "post rewritten", line["message"])
	require.Equal(t, "info", line["level"])
	require.Equal(t, "pipeline", line["service"])
	require.Equal(t, "p1", line["post_id"])
	require.Contains(t, line, "timestamp")
}

func TestInitLogLevelOverride(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	logger.InitWithOutput(&buf)
	require.Equal(t, logrus.WarnLevel, logger.Log.GetLevel())

	logger.Log.Info("hidden")
	require.Empty(t, buf.String())
}
