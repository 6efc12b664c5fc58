package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func setupTestLogger(level string) (*StandardLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewStandardLoggerWithWriter(&buf, level, "test"), &buf
}

func TestNewStandardLogger_Basic(t *testing.T) {
	logger := NewStandardLogger("info", "development")

	assert.NotNil(t, logger)
	assert.NotNil(t, logger.Logger())
	assert.NoError(t, logger.Shutdown(context.Background()))
}

func TestNewStandardLogger_LogLevels(t *testing.T) {
	tests := []struct {
		levelStr string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.levelStr, func(t *testing.T) {
			assert.Equal(t, tt.expected, getSlogLevel(tt.levelStr))
		})
	}
}

func TestParseLogrusLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogrusLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLogrusLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, ParseLogrusLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLogrusLevel(""))
}

func TestStandardLogger_ContextHelpers(t *testing.T) {
	tests := []struct {
		name   string
		log    func(l *StandardLogger)
		expect []string
	}{
		{"service", func(l *StandardLogger) { l.WithService("research-api").Info("hello") }, []string{`"service":"research-api"`}},
		{"component", func(l *StandardLogger) { l.WithComponent("backtester").Info("hello") }, []string{`"component":"backtester"`}},
		{"operation", func(l *StandardLogger) { l.WithOperation("run").Info("hello") }, []string{`"operation":"run"`}},
		{"request id", func(l *StandardLogger) { l.WithRequestID("req-1").Info("hello") }, []string{`"request_id":"req-1"`}},
		{"symbol", func(l *StandardLogger) { l.WithSymbol("BTC/USDT").Info("hello") }, []string{`"symbol":"BTC/USDT"`}},
		{"channel", func(l *StandardLogger) { l.WithChannel("KR").Info("hello") }, []string{`"channel":"KR"`}},
		{"error", func(l *StandardLogger) { l.WithError(errors.New("boom")).Error("failed") }, []string{`"error":"boom"`, `"level":"ERROR"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := setupTestLogger("info")
			tt.log(logger)
			out := buf.String()
			assert.Contains(t, out, `"environment":"test"`)
			for _, want := range tt.expect {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestStandardLogger_WithNilError(t *testing.T) {
	logger, buf := setupTestLogger("info")
	logger.WithError(nil).Info("no error")
	assert.NotContains(t, buf.String(), `"error"`)
}

func TestStandardLogger_EventHelpers(t *testing.T) {
	logger, buf := setupTestLogger("debug")

	logger.LogStartup("research-api", "1.0.0", 8080)
	logger.LogShutdown("research-api", "signal")
	logger.LogCacheOperation("get", "analysis_cache:backtest:abc", true, 3)
	logger.LogDatabaseOperation("insert", "backtest_runs", 12, 1)
	logger.LogAPIRequest("POST", "/api/v1/backtest", 200, 40)

	out := buf.String()
	assert.Contains(t, out, `"event":"startup"`)
	assert.Contains(t, out, `"port":8080`)
	assert.Contains(t, out, `"event":"shutdown"`)
	assert.Contains(t, out, `"hit":true`)
	assert.Contains(t, out, `"table":"backtest_runs"`)
	assert.Contains(t, out, `"path":"/api/v1/backtest"`)
}

func TestStandardLogger_LevelFiltering(t *testing.T) {
	logger, buf := setupTestLogger("info")
	logger.LogCacheOperation("get", "key", false, 1)
	assert.Empty(t, buf.String())
}

func TestNewLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger("debug", "production", &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger.WithFields(logrus.Fields{"symbol": "ETH/USDT"}).Info("Backtest completed")
	assert.Contains(t, buf.String(), `"symbol":"ETH/USDT"`)

	dev := NewLogrusLogger("info", "development", &buf)
	assert.IsType(t, &logrus.TextFormatter{}, dev.Formatter)
}

func TestNewOTLPLogger_Disabled(t *testing.T) {
	logger, err := NewOTLPLogger(OTLPConfig{Enabled: false, ServiceName: "test-service"})
	require.NoError(t, err)
	assert.NotNil(t, logger.Logger())
	assert.NoError(t, logger.Shutdown(context.Background()))
}

func TestNewOTLPLogger_InvalidEndpoint(t *testing.T) {
	_, err := NewOTLPLogger(OTLPConfig{Enabled: true, Endpoint: "localhost:4318", ServiceName: "test-service"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid OTLP endpoint")

	fallback := NewStandardOTLPLogger(OTLPConfig{Enabled: true, Endpoint: "::bad::", ServiceName: "test-service"})
	assert.NotNil(t, fallback.Logger())
}

func TestNewOTLPLogger_Enabled(t *testing.T) {
	logger, err := NewOTLPLogger(OTLPConfig{
		Enabled:        true,
		Endpoint:       "http://localhost:4318",
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		LogLevel:       "info",
	})
	require.NoError(t, err)
	assert.NotNil(t, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = logger.Shutdown(ctx)
}

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func TestOTLPHandler_EmitsRecords(t *testing.T) {
	exporter := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	logger := slog.New(NewOTLPHandler(provider.Logger("test"), slog.LevelInfo))
	logger.Debug("dropped")
	logger.With("component", "analyzer").WithGroup("run").Warn("waves detected", "count", 3, "ratio", 0.5, "ok", true)

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	require.Len(t, exporter.records, 1)
	record := exporter.records[0]
	assert.Equal(t, "waves detected", record.Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, record.Severity())

	attrs := map[string]otellog.Value{}
	record.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	assert.Equal(t, "analyzer", attrs["component"].AsString())
	assert.Equal(t, int64(3), attrs["run.count"].AsInt64())
	assert.Equal(t, 0.5, attrs["run.ratio"].AsFloat64())
	assert.True(t, attrs["run.ok"].AsBool())
}

func TestConvertSlogLevelToSeverity(t *testing.T) {
	assert.Equal(t, otellog.SeverityDebug, convertSlogLevelToSeverity(slog.LevelDebug))
	assert.Equal(t, otellog.SeverityInfo, convertSlogLevelToSeverity(slog.LevelInfo))
	assert.Equal(t, otellog.SeverityWarn, convertSlogLevelToSeverity(slog.LevelWarn))
	assert.Equal(t, otellog.SeverityError, convertSlogLevelToSeverity(slog.LevelError))
	assert.Equal(t, otellog.SeverityError, convertSlogLevelToSeverity(slog.LevelError+4))
}
