package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	cfg := DefaultLogConfig()
	cfg.File = path
	cfg.Level = "warn"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("model", "forest"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"kept"`)
	assert.Contains(t, lines[0], `"model":"forest"`)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestMetricsRecorders(t *testing.T) {
	before := testutil.ToFloat64(predictionsTotal.WithLabelValues("ok"))
	ObservePrediction("ok", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(predictionsTotal.WithLabelValues("ok")))

	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	RecordCacheLookup(true)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")))

	failures := testutil.ToFloat64(modelReloadsTotal.WithLabelValues("failure"))
	RecordModelReload(false)
	assert.Equal(t, failures+1, testutil.ToFloat64(modelReloadsTotal.WithLabelValues("failure")))

	SetModelInfo("random_forest", "abc")
	SetModelInfo("random_forest", "def")
	assert.Equal(t, 1, testutil.CollectAndCount(modelInfo))
	assert.Equal(t, 1.0, testutil.ToFloat64(modelInfo.WithLabelValues("random_forest", "def")))

	ObserveHTTPRequest("POST", "POST /predict", 200, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "POST /predict", "200")))

	TrackWebsocket(1)
	TrackWebsocket(-1)
	assert.Equal(t, 0.0, testutil.ToFloat64(websocketConnections))
}
