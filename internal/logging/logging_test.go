package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
}

func TestFileLoggerWritesJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	path := filepath.Join(t.TempDir(), "logs", "trader.log")

	log := NewLoggerWithConfig(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	LogOrder(WithComponent(log, "gateway"), "ord-1", "BBG004730N88", "MARKET", "FILLED")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "gateway", line["component"])
	assert.Equal(t, "order", line["event"])
	assert.Equal(t, "ord-1", line["order_id"])
	assert.Equal(t, "FILLED", line["status"])
}

func TestLogAPICallLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	LogAPICall(log, "GetOrders", "/orders", time.Millisecond, nil)
	assert.Empty(t, buf.String(), "successful calls log at debug")

	LogAPICall(log, "GetOrders", "/orders", time.Millisecond, errors.New("502"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "API call failed")
}
