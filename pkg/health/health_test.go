package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/jeeves-presence/pkg/mqtt"
	"github.com/saaga0h/jeeves-presence/pkg/postgres"
	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

type stubMQTT struct {
	connected bool
}

func (s *stubMQTT) Connect(ctx context.Context) error { return nil }
func (s *stubMQTT) Disconnect()                       {}
func (s *stubMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return nil
}
func (s *stubMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return nil
}
func (s *stubMQTT) IsConnected() bool { return s.connected }

type stubRedis struct{}

func (s *stubRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}
func (s *stubRedis) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (s *stubRedis) HSet(ctx context.Context, key string, field string, value interface{}) error {
	return nil
}
func (s *stubRedis) HGet(ctx context.Context, key string, field string) (string, error) {
	return "", nil
}
func (s *stubRedis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (s *stubRedis) ZAdd(ctx context.Context, key string, score float64, member interface{}) error {
	return nil
}
func (s *stubRedis) ZRemRangeByScore(ctx context.Context, key string, min, max string) error {
	return nil
}
func (s *stubRedis) ZCard(ctx context.Context, key string) (int64, error) { return 0, nil }
func (s *stubRedis) LPush(ctx context.Context, key string, values ...interface{}) error {
	return nil
}
func (s *stubRedis) LTrim(ctx context.Context, key string, start, stop int64) error { return nil }
func (s *stubRedis) LLen(ctx context.Context, key string) (int64, error)            { return 0, nil }
func (s *stubRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}
func (s *stubRedis) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (s *stubRedis) Ping(ctx context.Context) error                                  { return nil }
func (s *stubRedis) Close() error                                                    { return nil }

type stubPostgres struct {
	connected bool
	err       error
}

func (s *stubPostgres) Connect(ctx context.Context) error { return nil }
func (s *stubPostgres) Disconnect() error                 { return nil }
func (s *stubPostgres) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (s *stubPostgres) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (s *stubPostgres) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}
func (s *stubPostgres) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return nil
}
func (s *stubPostgres) HealthCheck(ctx context.Context) (*postgres.HealthStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &postgres.HealthStatus{Connected: s.connected}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var _ mqtt.Client = (*stubMQTT)(nil)
var _ redis.Client = (*stubRedis)(nil)
var _ postgres.Client = (*stubPostgres)(nil)

func detailedResponse(t *testing.T, checker *Checker) (int, HealthResponse) {
	t.Helper()
	req := httptest.NewRequest("GET", "/health/detailed", nil)
	rec := httptest.NewRecorder()
	checker.DetailedHandlerFunc()(rec, req)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestDetailedHealthWithoutPostgres(t *testing.T) {
	checker := NewChecker(&stubMQTT{connected: true}, &stubRedis{}, testLogger())

	code, resp := detailedResponse(t, checker)

	assert.Equal(t, 200, code)
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Services)
	assert.Equal(t, "connected", resp.Services.MQTT)
	assert.Equal(t, "connected", resp.Services.Redis)
	assert.Empty(t, resp.Services.Postgres)
}

func TestDetailedHealthIncludesPostgres(t *testing.T) {
	checker := NewChecker(&stubMQTT{connected: true}, &stubRedis{}, testLogger())
	checker.SetPostgres(&stubPostgres{connected: true})

	code, resp := detailedResponse(t, checker)

	assert.Equal(t, 200, code)
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Services)
	assert.Equal(t, "connected", resp.Services.Postgres)
}

func TestDetailedHealthDegradedOnPostgresFailure(t *testing.T) {
	checker := NewChecker(&stubMQTT{connected: true}, &stubRedis{}, testLogger())
	checker.SetPostgres(&stubPostgres{err: errors.New("connection refused")})

	code, resp := detailedResponse(t, checker)

	assert.Equal(t, 503, code)
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Services)
	assert.Equal(t, "disconnected", resp.Services.Postgres)
}

func TestDetailedHealthDegradedOnMQTTDisconnect(t *testing.T) {
	checker := NewChecker(&stubMQTT{connected: false}, &stubRedis{}, testLogger())

	code, resp := detailedResponse(t, checker)

	assert.Equal(t, 503, code)
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Services)
	assert.Equal(t, "disconnected", resp.Services.MQTT)
}
