package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(lookupMap(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, ModeDev, cfg.Mode)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultSignalPath, cfg.SignalPath)
	assert.Equal(t, DefaultShutdown, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultSignalingWSIdleTimeout, cfg.SignalingWSIdleTimeout)
	assert.Equal(t, DefaultSignalingWSPingInterval, cfg.SignalingWSPingInterval)
	assert.Equal(t, DefaultMaxSignalingMessageBytes, cfg.MaxSignalingMessageBytes)
	assert.Equal(t, DefaultMaxSignalingMessagesPerSecond, cfg.MaxSignalingMessagesPerSecond)
	assert.Equal(t, DefaultSignalingSendQueueBytes, cfg.SignalingSendQueueBytes)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.ICEServers)
	assert.NoError(t, cfg.ICEConfigError())
}

func TestDefaultsProd(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "prod"}), nil)
	require.NoError(t, err)

	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestModeFlagChangesLogDefaults(t *testing.T) {
	cfg, err := load(lookupMap(nil), []string{"--mode", "production"})
	require.NoError(t, err)

	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestExplicitLogSettingsWinOverMode(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode:      "prod",
		envVarLogFormat: "text",
	}), []string{"--log-level", "warn"})
	require.NoError(t, err)

	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestPortFallback(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarPort: "9000"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)

	cfg, err = load(lookupMap(map[string]string{
		envVarPort:       "9000",
		envVarListenAddr: "127.0.0.1:7000",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)

	_, err = load(lookupMap(map[string]string{envVarPort: "0"}), nil)
	assert.Error(t, err)
	_, err = load(lookupMap(map[string]string{envVarPort: "http"}), nil)
	assert.Error(t, err)
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:                    "127.0.0.1:1",
		envVarSignalPath:                    "/env",
		envVarMaxSignalingMessagesPerSecond: "5",
	}), []string{
		"--listen-addr", "127.0.0.1:2",
		"--signal-path", "/ws",
		"--max-signaling-messages-per-second", "7",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:2", cfg.ListenAddr)
	assert.Equal(t, "/ws", cfg.SignalPath)
	assert.Equal(t, 7, cfg.MaxSignalingMessagesPerSecond)
}

func TestSignalingLimitsFromEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:   "30s",
		envVarSignalingWSPingInterval:  "5s",
		envVarMaxSignalingMessageBytes: "4096",
		envVarSignalingSendQueueBytes:  "8192",
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SignalingWSIdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.SignalingWSPingInterval)
	assert.Equal(t, int64(4096), cfg.MaxSignalingMessageBytes)
	assert.Equal(t, 8192, cfg.SignalingSendQueueBytes)
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad mode", args: []string{"--mode", "staging"}},
		{name: "bad log format", args: []string{"--log-format", "xml"}},
		{name: "bad log level", args: []string{"--log-level", "loud"}},
		{name: "empty listen addr", args: []string{"--listen-addr", ""}},
		{name: "relative signal path", args: []string{"--signal-path", "ws"}},
		{name: "signal path with brace", args: []string{"--signal-path", "/ws{"}},
		{name: "signal path wildcard", args: []string{"--signal-path", "/{x}"}},
		{name: "signal path not clean", args: []string{"--signal-path", "/a/../ws"}},
		{name: "signal path trailing slash", args: []string{"--signal-path", "/ws/"}},
		{name: "zero shutdown", args: []string{"--shutdown-timeout", "0s"}},
		{name: "ping not below idle", args: []string{"--signaling-ws-idle-timeout", "10s", "--signaling-ws-ping-interval", "10s"}},
		{name: "zero idle", args: []string{"--signaling-ws-idle-timeout", "0s"}},
		{name: "zero ping", args: []string{"--signaling-ws-ping-interval", "0s"}},
		{name: "zero message bytes", args: []string{"--max-signaling-message-bytes", "0"}},
		{name: "zero rate", args: []string{"--max-signaling-messages-per-second", "0"}},
		{name: "queue smaller than message", args: []string{"--max-signaling-message-bytes", "2048", "--signaling-send-queue-bytes", "1024"}},
		{name: "bad duration env", env: map[string]string{envVarShutdownTimeout: "soon"}},
		{name: "bad int env", env: map[string]string{envVarMaxSignalingMessagesPerSecond: "many"}},
		{name: "bad bytes env", env: map[string]string{envVarMaxSignalingMessageBytes: "big"}},
		{name: "bad origin", env: map[string]string{envVarAllowedOrigins: "example.com"}},
		{name: "unknown flag", args: []string{"--no-such-flag"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), tc.args)
			assert.Error(t, err)
		})
	}
}

func TestAllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: " HTTPS://Example.COM:443 , *, http://localhost:3000/ ,,",
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com", "*", "http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestInvalidICEConfigIsDeferred(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	require.NoError(t, err)

	assert.Error(t, cfg.ICEConfigError())
	assert.Empty(t, cfg.ICEServers)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo})
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}

	_, err := NewLogger(Config{LogFormat: "yaml"})
	assert.Error(t, err)
}
