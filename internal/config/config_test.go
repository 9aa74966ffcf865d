package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pts-server.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/pts
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pts-server", cfg.Server.Name)
	assert.Equal(t, 3000, cfg.WebSocket.Port)
	assert.Equal(t, "/ptsWebSocket", cfg.WebSocket.Path)
	assert.Equal(t, int64(1<<20), cfg.WebSocket.MaxPayload)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 65535, cfg.PTS.MaxPacketID)
	assert.Equal(t, 30*time.Second, cfg.PTS.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.PTS.ShortConnectionThreshold)
	assert.Equal(t, 1024, cfg.PTS.EventBufferSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":3000", cfg.WebSocketAddr())
	assert.Equal(t, ":8080", cfg.APIAddr())
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
websocket:
  host: 0.0.0.0
  port: 9000
  path: /controllers
api:
  port: 9090
pts:
  max_packet_id: 1000
  heartbeat_interval: 10s
database:
  dsn: postgres://localhost/pts
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.WebSocketAddr())
	assert.Equal(t, "/controllers", cfg.WebSocket.Path)
	assert.Equal(t, 1000, cfg.PTS.MaxPacketID)
	assert.Equal(t, 10*time.Second, cfg.PTS.HeartbeatInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/pts")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PTS_WS_PATH", "/envPath")

	path := writeConfig(t, `
database:
  dsn: postgres://file/pts
jwt:
  secret: file-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://override/pts", cfg.Database.DSN)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "/envPath", cfg.WebSocket.Path)
}

func TestLoadRejectsBadPacketIDBound(t *testing.T) {
	path := writeConfig(t, `
pts:
  max_packet_id: 70000
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_packet_id")
}

func TestLoadRejectsPortClash(t *testing.T) {
	path := writeConfig(t, `
websocket:
  port: 8080
api:
  port: 8080
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share port")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
