// Command vtserver is the terminal-multiplexing server entrypoint.
//
// Grounded on the teacher's root main.go bootstrap sequence (dotenv
// load, flag parse, router setup, ListenAndServe), restructured around
// spf13/cobra the way ehrlich-b-wingthing's and
// otterscale-otterscale-agent's main.go commands are, since this
// server's CLI surface (spec §6) is large enough to want named flags
// grouped by concern rather than a flat stdlib flag.FlagSet.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibetunnel/vtserver/internal/api"
	"github.com/vibetunnel/vtserver/internal/auth"
	"github.com/vibetunnel/vtserver/internal/config"
	"github.com/vibetunnel/vtserver/internal/hq"
	"github.com/vibetunnel/vtserver/internal/session"
	"github.com/vibetunnel/vtserver/internal/wsbuffer"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitPortInUse   = 9
)

func main() {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "vtserver",
		Short: "Multiplexes terminal sessions over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flags.StringVar(&cfg.Bind, "bind", cfg.Bind, "listen address")
	flags.BoolVar(&cfg.NoAuth, "no-auth", cfg.NoAuth, "disable bearer-token authentication")
	flags.BoolVar(&cfg.EnableSSHKeys, "enable-ssh-keys", cfg.EnableSSHKeys, "accept SSH keys for authentication")
	flags.BoolVar(&cfg.DisallowUserPassword, "disallow-user-password", cfg.DisallowUserPassword, "reject password auth (implies --enable-ssh-keys)")
	flags.BoolVar(&cfg.AllowLocalBypass, "allow-local-bypass", cfg.AllowLocalBypass, "allow unauthenticated access from loopback")
	flags.StringVar(&cfg.LocalAuthToken, "local-auth-token", cfg.LocalAuthToken, "additional token accepted only from loopback")
	flags.BoolVar(&cfg.HQ, "hq", cfg.HQ, "run as an HQ aggregating registered remotes")
	flags.StringVar(&cfg.HQURL, "hq-url", cfg.HQURL, "HQ URL to register this server with")
	flags.StringVar(&cfg.HQUsername, "hq-username", cfg.HQUsername, "username for HQ registration")
	flags.StringVar(&cfg.HQPassword, "hq-password", cfg.HQPassword, "password/token for HQ registration")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "this server's name when registering with an HQ")
	flags.BoolVar(&cfg.AllowInsecureHQ, "allow-insecure-hq", cfg.AllowInsecureHQ, "allow a non-HTTPS HQ URL")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flags.StringVar(&cfg.ControlDir, "control-dir", cfg.ControlDir, "control directory root for session state")
	flags.BoolVar(&cfg.DisableColumnResize, "disable-column-resize", cfg.DisableColumnResize, "never let a client change a session's column count")
	flags.BoolVar(&cfg.DisableWebTerminal, "disable-web-terminal", cfg.DisableWebTerminal, "disable the /terminal convenience page")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}

func run(cfg *config.Config) error {
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	sessions := session.NewManager(cfg.ControlDir)
	defer sessions.Stop()

	watcher, err := session.NewWatcher(sessions)
	if err != nil {
		return fmt.Errorf("vtserver: control directory watcher: %w", err)
	}
	go watcher.Run()
	defer watcher.Stop()

	hub := wsbuffer.NewHub(sessions)

	var registry *hq.Registry
	var forwarder *hq.Forwarder
	if cfg.HQ {
		registry = hq.NewRegistry()
		forwarder = hq.NewForwarder(registry)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go forwarder.HealthLoop(ctx)
	}

	authCfg := auth.Config{Disabled: cfg.NoAuth, AllowLocalBypass: cfg.AllowLocalBypass, LocalToken: cfg.LocalAuthToken}

	// Registering with an upstream HQ hands it a fresh bearer token and
	// commits this node to accepting exactly that token back (spec
	// §4.10): "the remote's auth middleware accepts exactly that token".
	if cfg.HQURL != "" {
		authCfg.Token = uuid.NewString()
		selfURL := selfAdvertiseURL(cfg)
		registerClient := hq.NewRegisterClient(cfg.HQURL, cfg.HQUsername, cfg.HQPassword)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go hq.RunRegisterLoop(ctx, registerClient, cfg.Name, selfURL, authCfg.Token)
	}

	router := api.NewRouter(api.Options{
		Sessions:          sessions,
		Hub:               hub,
		Registry:          registry,
		Forwarder:         forwarder,
		Auth:              authCfg,
		ServeTerminalPage: !cfg.DisableWebTerminal,
	})

	addr := net.JoinHostPort(cfg.Bind, fmt.Sprintf("%d", cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			fmt.Fprintf(os.Stderr, "vtserver: port %d is already in use\n", cfg.Port)
			os.Exit(exitPortInUse)
		}
		return err
	}

	server := &http.Server{Handler: router}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	logrus.WithFields(logrus.Fields{"addr": addr, "controlDir": cfg.ControlDir}).Info("vtserver listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return nil
}

// selfAdvertiseURL builds the URL this node registers with its HQ. The
// spec's CLI surface has no dedicated --advertise-url flag, so 0.0.0.0
// (a listen address, not a reachable one) is normalized to localhost;
// operators fronting a remote with a reverse proxy should set --bind to
// the hostname they want advertised.
func selfAdvertiseURL(cfg *config.Config) string {
	host := cfg.Bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Port)))
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
