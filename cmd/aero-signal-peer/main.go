// Command aero-signal-peer is a manual smoke-test client for the relay. It
// joins with a display name and prints roster changes. With --call it opens a
// DataChannel to the named user and exchanges a greeting; without it, it
// answers incoming calls and echoes what it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/peerclient"
	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/signaling"
)

func main() {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("aero-signal-peer", flag.ContinueOnError)
	url := fs.String("url", envOr("AERO_SIGNAL_URL", "ws://127.0.0.1:8080/"), "relay WebSocket URL (env AERO_SIGNAL_URL)")
	name := fs.String("name", "", "display name to join with (required)")
	call := fs.String("call", "", "display name of the user to call")
	stunURLs := fs.String("stun-urls", os.Getenv("AERO_STUN_URLS"), "comma-separated STUN URLs (env AERO_STUN_URLS)")
	timeout := fs.Duration("timeout", 30*time.Second, "how long to wait for the callee and the DataChannel")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "--name is required")
		os.Exit(2)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := config.NewLogger(config.Config{LogFormat: config.LogFormatText, LogLevel: level})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	iceServers, err := config.ParseICEServersFromConvenienceEnv(*stunURLs, "", "", "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *url, *name, *call, iceServers, *timeout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("peer failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, url, name, call string, iceServers []webrtc.ICEServer, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := peerclient.Dial(dialCtx, url, logger)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("connected to relay", "client_id", client.ID())

	if err := client.Join(name); err != nil {
		return err
	}

	peer := peerclient.NewPeer(client, peerclient.NewAPI(logger, nil), iceServers, name, logger)
	runErr := make(chan error, 1)
	go func() { runErr <- peer.Run(ctx) }()

	if call == "" {
		go printRosters(ctx, logger, client)
		return answerLoop(ctx, logger, peer, runErr)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targetID, err := client.WaitForUser(waitCtx, call)
	if err != nil {
		return fmt.Errorf("waiting for %q: %w", call, err)
	}
	go printRosters(ctx, logger, client)

	logger.Info("calling", "username", call, "target_id", targetID)
	s, err := peer.Offer(waitCtx, targetID)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Send("hello from " + name); err != nil {
		return err
	}
	select {
	case msg := <-s.Messages():
		fmt.Printf("%s: %s\n", call, msg)
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	case err := <-runErr:
		return err
	}
}

func answerLoop(ctx context.Context, logger *slog.Logger, peer *peerclient.Peer, runErr <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions := make(chan *peerclient.Session)
	go forwardAccepted(ctx, peer.Accept, sessions)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-runErr:
			return err
		case s := <-sessions:
			logger.Info("accepted call", "remote_id", s.RemoteID, "remote_username", s.RemoteUsername)
			go echo(s)
		}
	}
}

// forwardAccepted feeds accepted sessions to out until ctx is done.
func forwardAccepted(ctx context.Context, accept func(context.Context) (*peerclient.Session, error), out chan<- *peerclient.Session) {
	for {
		s, err := accept(ctx)
		if err != nil {
			return
		}
		select {
		case out <- s:
		case <-ctx.Done():
			if s != nil {
				s.Close()
			}
			return
		}
	}
}

func echo(s *peerclient.Session) {
	defer s.Close()
	for {
		select {
		case <-s.Done():
			return
		case msg := <-s.Messages():
			fmt.Printf("%s: %s\n", s.RemoteUsername, msg)
			_ = s.Send("echo: " + msg)
		}
	}
}

func printRosters(ctx context.Context, logger *slog.Logger, client *peerclient.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case users := <-client.Roster():
			logger.Info("roster", "users", formatRoster(users))
		}
	}
}

func formatRoster(users []signaling.User) string {
	parts := make([]string, 0, len(users))
	for _, u := range users {
		name := u.Username
		if name == "" {
			name = "(unnamed)"
		}
		parts = append(parts, u.ClientID+"="+name)
	}
	return strings.Join(parts, ", ")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
