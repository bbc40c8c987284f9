package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/gate"
	"github.com/Suhridx/pump-dashboard/transport"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Transport.URL = "wss://broker.example.com:8884/mqtt"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_NeedsOnlyURL(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.True(t, errors.IsFatal(err))

	cfg.Transport.URL = "wss://broker.example.com:8884/mqtt"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Gate.Cooldowns[gate.KindSendLog].Std())
	assert.Equal(t, gate.DefaultTopic, cfg.Session.PublishTopic)
	assert.Equal(t, transport.DefaultReconnect(), cfg.Transport.Reconnect.Policy())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown kind", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"url scheme", func(c *Config) { c.Transport.URL = "http://broker.example.com" }},
		{"qos", func(c *Config) { c.Transport.QoS = 3 }},
		{"reconnect interval", func(c *Config) { c.Transport.Reconnect.InitialInterval = 0 }},
		{"state request", func(c *Config) { c.Session.StateRequest = "getState" }},
		{"queue size", func(c *Config) { c.Session.QueueSize = 0 }},
		{"no topics", func(c *Config) { c.Session.SubscribeTopics = nil }},
		{"publish topic", func(c *Config) { c.Session.PublishTopic = "" }},
		{"negative cooldown", func(c *Config) { c.Gate.Cooldowns["sendlog"] = Duration(-time.Second) }},
		{"backfill without archive", func(c *Config) { c.Archive.Backfill.Enabled = true }},
		{"archive url", func(c *Config) { c.Archive.BaseURL = "script.example.com" }},
		{"archive schedule", func(c *Config) {
			c.Archive.BaseURL = "https://script.example.com/exec"
			c.Archive.Backfill.Schedule = "sometimes"
		}},
		{"http addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"ws clients", func(c *Config) { c.HTTP.MaxClients = 0 }},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
		{"identity role", func(c *Config) { c.Auth.Identity = &IdentityConfig{ID: "u1", Role: "ROOT"} }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"transport ca", func(c *Config) { c.Transport.TLS.CAFiles = []string{"/nonexistent/ca.pem"} }},
		{"transport tls version", func(c *Config) { c.Transport.TLS.MinVersion = "1.0" }},
		{"http cert without key", func(c *Config) { c.HTTP.TLS.CertFile = "/etc/pumpview/cert.pem" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err), "got %v", err)
		})
	}
}

func TestConfig_ValidateWebsocketNeedsNoTopics(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.Kind = "WebSocket"
	cfg.Transport.URL = "ws://192.168.4.1:81/"
	cfg.Session.SubscribeTopics = nil
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "websocket", cfg.Transport.Kind)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.yaml", `
transport:
  kind: mqtt
  url: wss://broker.example.com:8884/mqtt
  reconnect:
    max_interval: 1m
gate:
  cooldowns:
    sendlog: 10m
archive:
  base_url: https://script.example.com/exec
  cache_ttl: 1d
  backfill:
    enabled: true
    schedule: "@hourly"
`)
	site := writeFile(t, "site.toml", `
[session]
subscribe_topics = ["device/status"]

[http]
addr = "127.0.0.1:9000"
`)
	override := writeFile(t, "override.json", `{"log": {"level": "debug"}, "transport": {"qos": 1}}`)

	loader := NewLoader()
	loader.getenv = func(string) string { return "" }
	loader.AddLayer(base)
	loader.AddLayer(site)
	loader.AddLayer(override)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Transport.Reconnect.MaxInterval.Std())
	assert.Equal(t, time.Second, cfg.Transport.Reconnect.InitialInterval.Std(), "defaults survive partial sections")
	assert.Equal(t, 10*time.Minute, cfg.Gate.Cooldowns["sendlog"].Std())
	assert.Equal(t, 5*time.Minute, cfg.Gate.Cooldowns["sendLevelLog"].Std())
	assert.Equal(t, 24*time.Hour, cfg.Archive.CacheTTL.Std())
	assert.True(t, cfg.Archive.Backfill.Enabled)
	assert.Equal(t, []string{"device/status"}, cfg.Session.SubscribeTopics)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 1, cfg.Transport.QoS)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"PUMPVIEW_TRANSPORT_KIND":     "nats",
		"PUMPVIEW_TRANSPORT_URL":      "nats://127.0.0.1:4222",
		"PUMPVIEW_TRANSPORT_PASSWORD": "hunter2",
		"PUMPVIEW_METRICS_PORT":       "9191",
	}
	loader := NewLoader()
	loader.getenv = func(k string) string { return env[k] }
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.Transport.Kind)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Transport.URL)
	assert.Equal(t, 9191, cfg.Metrics.Port)

	assert.NotContains(t, cfg.String(), "hunter2")
	assert.Equal(t, "hunter2", cfg.Transport.Password)

	env["PUMPVIEW_METRICS_PORT"] = "ninety"
	_, err = loader.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	env["PUMPVIEW_METRICS_PORT"] = ""
	env["PUMPVIEW_HTTP_ADDR"] = "a\x00b"
	_, err = loader.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	env["PUMPVIEW_HTTP_ADDR"] = ""
	env["PUMPVIEW_TRANSPORT_PASSWORD"] = "hunter2\n"
	_, err = loader.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsFatal(err))

	env["PUMPVIEW_TRANSPORT_PASSWORD"] = strings.Repeat("p", maxOverrideBytes+1)
	_, err = loader.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoader_Failures(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := NewLoader().LoadFile(writeFile(t, "cfg.ini", "a=b"))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := NewLoader().LoadFile(writeFile(t, "bad.yaml", "transport: [unclosed"))
		assert.ErrorIs(t, err, errors.ErrParsingFailed)
	})
	t.Run("too deep", func(t *testing.T) {
		deep := ""
		for i := 0; i < maxLayerDepth+1; i++ {
			deep += `{"a":`
		}
		deep += "1"
		for i := 0; i < maxLayerDepth+1; i++ {
			deep += "}"
		}
		_, err := NewLoader().LoadFile(writeFile(t, "deep.json", deep))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("too deep in yaml", func(t *testing.T) {
		deep := ""
		for i := 0; i <= maxLayerDepth; i++ {
			deep += strings.Repeat("  ", i) + "a:\n"
		}
		deep += strings.Repeat("  ", maxLayerDepth+1) + "b: 1\n"
		_, err := NewLoader().LoadFile(writeFile(t, "deep.yaml", deep))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "conf.d.json")
		require.NoError(t, os.Mkdir(dir, 0o700))
		_, err := NewLoader().LoadFile(dir)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("too large", func(t *testing.T) {
		big := `{"log":{"level":"info"},"pad":"` + strings.Repeat("x", maxLayerBytes) + `"}`
		_, err := NewLoader().LoadFile(writeFile(t, "big.json", big))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := NewLoader().LoadFile(writeFile(t, "dur.json", `{"session":{"operation_timeout":"soon"}}`))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("validation", func(t *testing.T) {
		loader := NewLoader()
		loader.getenv = func(string) string { return "" }
		loader.EnableValidation(true)
		_, err := loader.Load()
		assert.ErrorIs(t, err, errors.ErrMissingConfig)
	})
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"90s","b":"2d","c":1000000}`), &v))
	assert.Equal(t, 90*time.Second, v.A.Std())
	assert.Equal(t, 48*time.Hour, v.B.Std())
	assert.Equal(t, time.Millisecond, v.C.Std())

	out, err := json.Marshal(v.A)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Session.SubscribeTopics[0] = "mutated"
	got.Gate.Cooldowns["sendlog"] = 0
	fresh := sc.Get()
	assert.Equal(t, "device/status", fresh.Session.SubscribeTopics[0])
	assert.Equal(t, 5*time.Minute, fresh.Gate.Cooldowns["sendlog"].Std())

	bad := validConfig()
	bad.HTTP.Addr = ""
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	next := validConfig()
	next.HTTP.Addr = ":9999"
	require.NoError(t, sc.Update(next))
	assert.Equal(t, ":9999", sc.Get().HTTP.Addr)
}

func TestIdentityConfig(t *testing.T) {
	id, err := IdentityConfig{ID: "u1", Name: "Ops", Role: "owner"}.Identity()
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)

	_, err = IdentityConfig{Role: "USER"}.Identity()
	assert.Error(t, err)
}
