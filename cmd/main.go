package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/maeshinshin/lanlink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
	mode       = flag.String("mode", "server", "Role to run: server or client")
	name       = flag.String("name", "", "Server name to advertise, or to look up in client mode")
	password   = flag.Bool("password", false, "Advertise that the server requires a password")
	dial       = flag.Bool("dial", false, "In client mode, connect to the first server named -name")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.Logger(os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	lanlink.SetLogger(logger)

	var role fx.Option
	switch *mode {
	case "server":
		role = serverModule
	case "client":
		role = clientModule
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	app := fx.New(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		fx.Provide(
			prometheus.NewRegistry,
			func(reg *prometheus.Registry) *lanlink.Metrics { return lanlink.NewMetrics(reg) },
		),
		fx.Invoke(serveMetrics),
		role,
	)
	app.Run()
}

func loadConfig() (*lanlink.Config, error) {
	cfg := lanlink.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = lanlink.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *name != "" {
		cfg.Server.Name = *name
	}
	if *password {
		cfg.Server.PasswordRequired = true
	}
	if cfg.Server.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Server.Name = hostname
	}
	return cfg, cfg.Validate()
}

var serverModule = fx.Module("server",
	fx.Provide(newServer),
	fx.Invoke(func(*lanlink.Server) {}),
)

func newServer(lc fx.Lifecycle, cfg *lanlink.Config, m *lanlink.Metrics, logger *slog.Logger) (*lanlink.Server, error) {
	info, err := cfg.ServerInfo()
	if err != nil {
		return nil, err
	}

	s, err := lanlink.NewServer(info, cfg.ServerOptions(lanlink.WithLogger(logger), lanlink.WithMetrics(m))...)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: func(context.Context) error {
			logger.Info("Server stopping", "connections", s.ConnectionCount())
			return s.Shutdown()
		},
	})
	return s, nil
}

var clientModule = fx.Module("client",
	fx.Provide(newClient),
	fx.Invoke(watchClient),
)

func newClient(lc fx.Lifecycle, cfg *lanlink.Config, m *lanlink.Metrics, logger *slog.Logger) (*lanlink.Client, error) {
	c, err := lanlink.NewClient(cfg.ClientOptions(lanlink.WithLogger(logger), lanlink.WithMetrics(m))...)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return c.Shutdown()
		},
	})
	return c, nil
}

// watchClient reports the discovered set every refresh interval and, with
// -dial, connects to the first server carrying the requested name.
func watchClient(lc fx.Lifecycle, c *lanlink.Client, cfg *lanlink.Config, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if *dial {
					connect(ctx, c, logger)
				}
				report(ctx, c, cfg.Client.RefreshInterval, logger)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func connect(ctx context.Context, c *lanlink.Client, logger *slog.Logger) {
	if *name == "" {
		logger.Warn("-dial needs -name")
		return
	}

	info, err := c.Lookup(ctx, lanlink.ByName(*name))
	if err != nil {
		logger.Warn("Lookup ended", "name", *name, "error", err)
		return
	}

	conn, err := lanlink.Dial(ctx, info)
	if err != nil {
		logger.Error("Failed to connect", "server", info.String(), "error", err)
		return
	}
	logger.Info("Connected", "server", info.String(), "local", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
}

func report(ctx context.Context, c *lanlink.Client, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		names := make(map[string]int)
		for _, info := range c.Servers() {
			names[info.String()]++
		}
		logger.Info("Discovered servers", "entries", c.Len(), "servers", names)
	}
}

func serveMetrics(lc fx.Lifecycle, cfg *lanlink.Config, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Metrics.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen for metrics: %w", err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server failed", "error", err)
				}
			}()
			logger.Info("Serving metrics", "address", ln.Addr().String())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
