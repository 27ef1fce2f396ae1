package peerclient

import (
	"io"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// NewAPI builds a pion API whose internal logging goes to logger. configure,
// if non-nil, can adjust the SettingEngine (tests use it to attach a virtual
// network).
func NewAPI(logger *slog.Logger, configure func(*webrtc.SettingEngine)) *webrtc.API {
	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger),
	}
	if configure != nil {
		configure(&se)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
