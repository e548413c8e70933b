package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// mockCmdable is an in-memory Cmdable for unit tests. Only the behavior
// the Client exercises is simulated; TTLs are tracked but not enforced
// by a background sweeper.
type mockCmdable struct {
	data    map[string]string
	expires map[string]time.Time
	failAll error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *mockCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.failAll != nil {
		cmd.SetErr(m.failAll)
		return cmd
	}
	m.data[key] = value.(string)
	if expiration > 0 {
		m.expires[key] = time.Now().Add(expiration)
	}
	cmd.SetVal("OK")
	return cmd
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.failAll != nil {
		cmd.SetErr(m.failAll)
		return cmd
	}
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.data, key)
		delete(m.expires, key)
	}
	val, ok := m.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			delete(m.expires, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := m.data[key]; !ok {
		cmd.SetVal(false)
		return cmd
	}
	m.expires[key] = time.Now().Add(expiration)
	cmd.SetVal(true)
	return cmd
}

func (m *mockCmdable) TTL(ctx context.Context, key string) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Second)
	if _, ok := m.data[key]; !ok {
		cmd.SetVal(-2)
		return cmd
	}
	exp, ok := m.expires[key]
	if !ok {
		cmd.SetVal(-1)
		return cmd
	}
	cmd.SetVal(time.Until(exp))
	return cmd
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.failAll != nil {
		cmd.SetErr(m.failAll)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (m *mockCmdable) Close() error { return nil }

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	client := NewFromClient(newMockCmdable(), nil)

	require.NoError(t, client.Set(ctx, "session:abc", `{"id":"abc"}`, time.Minute))

	val, err := client.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"abc"}`, val)

	deleted, err := client.Del(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = client.Get(ctx, "session:abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, Nil), "key miss must remain detectable via errors.Is")
	assert.Equal(t, acerr.CodeNotFound, acerr.GetCode(err))
}

func TestExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	client := NewFromClient(newMockCmdable(), nil)

	require.NoError(t, client.Set(ctx, "k", "v", 0))

	ok, err := client.Expire(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	ttl, err = client.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl)
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := NewFromClient(mock, nil)

	mock.failAll = context.DeadlineExceeded
	err := client.Set(ctx, "k", "v", 0)
	require.Error(t, err)
	assert.Equal(t, acerr.CodeTimeoutDatabase, acerr.GetCode(err))

	mock.failAll = errors.New("connection reset")
	err = client.Health(ctx)
	require.Error(t, err)
	assert.Equal(t, acerr.CodeInternalDatabase, acerr.GetCode(err))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"uri only", func(c *Config) { c.Host = ""; c.URI = "redis://localhost:6379/0" }, false},
		{"empty host no uri", func(c *Config) { c.Host = "" }, true},
		{"port out of range", func(c *Config) { c.Port = 0 }, true},
		{"db out of range", func(c *Config) { c.DB = 16 }, true},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }, true},
		{"idle exceeds pool", func(c *Config) { c.MinIdleConns = 100 }, true},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(text))
}
