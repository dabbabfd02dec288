// Command domreplay replays the scripts of web pages one at a time and
// reports which DOM changes each one caused.
//
// Usage:
//
//	domreplay -url https://example.com          # replay one page, steps on stdout
//	domreplay -file page.html -base https://x/  # static dry run of a local file
//	domreplay -config domreplay.yaml            # replay the configured pages
//	domreplay -config domreplay.yaml -serve     # HTTP API on api.addr
//	domreplay -mcp stdio                        # MCP tools on stdin/stdout
//	domreplay -mcp quic -mcp-addr :9444         # MCP tools over QUIC
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domreplay/htmldoc"
	"github.com/hazyhaar/domreplay/mcpquic"
	"github.com/hazyhaar/domreplay/replay"
)

type options struct {
	configPath string
	pageURL    string
	file       string
	base       string
	stealth    string
	serve      bool
	mcp        string
	mcpAddr    string
	tlsCert    string
	tlsKey     string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to domreplay.yaml config file")
	flag.StringVar(&o.pageURL, "url", "", "replay a single URL (stdout sink)")
	flag.StringVar(&o.file, "file", "", "static dry run of a local HTML file")
	flag.StringVar(&o.base, "base", "", "base URL for script sources of -file")
	flag.StringVar(&o.stealth, "stealth", "auto", "stealth level for -url: 0, 1, 2 or auto")
	flag.BoolVar(&o.serve, "serve", false, "serve the HTTP API on api.addr")
	flag.StringVar(&o.mcp, "mcp", "", "serve MCP tools: stdio or quic")
	flag.StringVar(&o.mcpAddr, "mcp-addr", ":9444", "UDP address for -mcp quic")
	flag.StringVar(&o.tlsCert, "tls-cert", "", "certificate for -mcp quic (self-signed if empty)")
	flag.StringVar(&o.tlsKey, "tls-key", "", "key for -mcp quic")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("domreplay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	switch {
	case o.file != "":
		return runFile(ctx, logger, o)
	case o.pageURL != "":
		return runSingle(ctx, logger, o)
	case o.serve || o.mcp != "":
		return runServer(ctx, logger, o)
	case o.configPath != "":
		return runConfig(ctx, logger, o)
	}
	fmt.Fprintln(os.Stderr, "usage: domreplay -url <url> | -file <html> | -config <file> [-serve] | -mcp stdio|quic")
	os.Exit(2)
	return nil
}

func loadConfig(path string) (*replay.Config, error) {
	if path == "" {
		return replay.ParseConfig(nil)
	}
	cfg, err := replay.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runFile(ctx context.Context, logger *slog.Logger, o options) error {
	f, err := os.Open(o.file)
	if err != nil {
		return err
	}
	defer f.Close()

	var opts []htmldoc.Option
	if o.base != "" {
		opts = append(opts, htmldoc.WithBaseURL(o.base))
	}
	doc, err := htmldoc.Parse(f, append(opts, htmldoc.WithLogger(logger))...)
	if err != nil {
		return err
	}

	rep := replay.New(nil, logger, replay.NewStdoutSink(nil))
	defer rep.Stop()
	_, err = rep.ReplayDocument(ctx, doc, o.file, o.base)
	return err
}

func runSingle(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	rep := replay.New(cfg, logger, replay.NewStdoutSink(nil))
	defer rep.Stop()

	_, err = rep.ReplayPage(ctx, replay.PageConfig{URL: o.pageURL, StealthLevel: o.stealth})
	return err
}

func runConfig(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	sinks, err := replay.SinksFromConfig(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	rep := replay.New(cfg, logger, sinks...)
	defer rep.Stop()

	runs, err := rep.ReplayAll(ctx)
	logger.Info("domreplay: pages replayed", "runs", len(runs), "pages", len(cfg.Pages))
	return err
}

func runServer(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	sinkCfgs := cfg.Sinks
	if o.mcp == "stdio" {
		// stdout belongs to the MCP transport.
		sinkCfgs = withoutStdout(sinkCfgs)
	}
	sinks, err := replay.SinksFromConfig(sinkCfgs, logger)
	if err != nil {
		return err
	}
	rep := replay.New(cfg, logger, sinks...)
	defer rep.Stop()
	svc := replay.NewService(rep)
	defer svc.CloseAll()

	errc := make(chan error, 2)

	if o.serve {
		srv := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("domreplay: http api starting", "addr", cfg.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("domreplay: http shutdown", "error", err)
			}
		}()
	}

	if o.mcp != "" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "domreplay", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		switch o.mcp {
		case "stdio":
			go func() {
				errc <- mcpSrv.Run(ctx, &mcp.StdioTransport{})
			}()
		case "quic":
			l, err := quicListener(logger, o, mcpSrv)
			if err != nil {
				return err
			}
			defer l.Close()
			go func() {
				if err := l.Serve(ctx); err != nil && ctx.Err() == nil {
					errc <- err
				}
			}()
		default:
			return fmt.Errorf("unknown -mcp transport %q", o.mcp)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("domreplay: shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

func quicListener(logger *slog.Logger, o options, srv *mcp.Server) (*mcpquic.Listener, error) {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if o.tlsCert != "" && o.tlsKey != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(o.tlsCert, o.tlsKey)
	} else {
		logger.Warn("domreplay: no TLS pair given, using a self-signed certificate")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return nil, err
	}
	return mcpquic.NewListener(o.mcpAddr, tlsCfg, srv, logger)
}

func withoutStdout(cfgs []replay.SinkConfig) []replay.SinkConfig {
	out := make([]replay.SinkConfig, 0, len(cfgs))
	for _, c := range cfgs {
		if c.Type != "stdout" {
			out = append(out, c)
		}
	}
	return out
}
