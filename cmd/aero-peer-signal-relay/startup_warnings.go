package main

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any website can open relay connections)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail until it is fixed",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	} else if len(cfg.ICEServers) == 0 && cfg.Mode == config.ModeProd {
		logger.Warn("startup warning: no ICE servers configured; peers behind NAT may fail to connect",
			"warning_code", "ice_servers_missing",
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && !hasTURNServer(cfg.ICEServers) {
		logger.Warn("startup warning: TURN REST shared secret is set but no TURN URLs are configured",
			"warning_code", "turn_rest_unused",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (raises per-connection memory use)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}

func hasTURNServer(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			u = strings.ToLower(strings.TrimSpace(u))
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}
