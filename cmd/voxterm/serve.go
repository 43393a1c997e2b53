package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ehrlich-b/voxterm/internal/asr"
	"github.com/ehrlich-b/voxterm/internal/auth"
	"github.com/ehrlich-b/voxterm/internal/config"
	"github.com/ehrlich-b/voxterm/internal/logger"
	"github.com/ehrlich-b/voxterm/internal/observe"
	"github.com/ehrlich-b/voxterm/internal/ptyctl"
	"github.com/ehrlich-b/voxterm/internal/relay"
	"github.com/ehrlich-b/voxterm/internal/tunnel"
	"github.com/ehrlich-b/voxterm/internal/web"
)

const (
	// exitLinger gives clients time to receive the exit message before the
	// server goes away.
	exitLinger      = 500 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

type serveFlags struct {
	configPath string
	listen     string
	pin        string
	tunnel     string
	tunnelURL  string
	asrURL     string
	logLevel   string
	logFile    string
	mirror     string
}

func rootCmd() *cobra.Command {
	return newRootCmd(runServe)
}

func newRootCmd(run func(*cobra.Command, serveFlags, []string) error) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "voxterm [flags] [-- command [args...]]",
		Short: "Share a terminal with browsers, with voice input",
		Long: "Runs a command in a pseudo-terminal and serves it over WebSocket so any number of browsers\n" +
			"can watch and type. Speech from the browser is transcribed by an external backend.",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "config file (default ~/.voxterm/config.yaml)")
	fl.StringVarP(&f.listen, "listen", "l", "", "listen address")
	fl.StringVar(&f.pin, "pin", "", "PIN browsers must enter")
	fl.StringVar(&f.tunnel, "tunnel", "", "tunnel mode: none, static or command")
	fl.StringVar(&f.tunnelURL, "public-url", "", "public URL for static tunnel mode")
	fl.StringVar(&f.asrURL, "asr-url", "", "transcription backend WebSocket URL")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fl.StringVar(&f.logFile, "log-file", "", "append logs to this file")
	fl.StringVar(&f.mirror, "mirror", "", "mirror the terminal locally: auto, on or off")
	return cmd
}

// applyFlags lays explicitly set flags and the trailing command over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags, args []string) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("listen", &cfg.Listen, f.listen)
	set("pin", &cfg.PIN, f.pin)
	set("tunnel", &cfg.Tunnel.Mode, f.tunnel)
	set("public-url", &cfg.Tunnel.URL, f.tunnelURL)
	set("asr-url", &cfg.ASR.URL, f.asrURL)
	set("log-level", &cfg.Log.Level, f.logLevel)
	set("log-file", &cfg.Log.File, f.logFile)
	set("mirror", &cfg.Mirror, f.mirror)
	if cmd.Flags().Changed("pin") {
		cfg.PINHash = ""
	}
	if cmd.Flags().Changed("public-url") && !cmd.Flags().Changed("tunnel") {
		cfg.Tunnel.Mode = "static"
	}
	if len(args) > 0 {
		cfg.Command = args[0]
		cfg.Args = args[1:]
	}
}

func shouldMirror(mode string) bool {
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func asrConfig(cfg *config.Config) asr.Config {
	return asr.Config{
		URL:      cfg.ASR.URL,
		Language: cfg.ASR.Language,
		Model:    cfg.ASR.Model,
		Grace:    cfg.ASR.Grace,
	}
}

func gateConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		PIN:                  cfg.PIN,
		PINHash:              cfg.PINHash,
		TokenTTL:             cfg.Auth.TokenTTL,
		MaxAttemptsPerMinute: cfg.Auth.MaxAttemptsPerMinute,
	}
}

func runServe(cmd *cobra.Command, f serveFlags, args []string) error {
	cfgPath, required := f.configPath, f.configPath != ""
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath, required)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg, f, args)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// stdout belongs to the mirrored terminal, so logs go to a file instead.
	mirror := shouldMirror(cfg.Mirror)
	var console io.Writer = os.Stderr
	logFile := cfg.Log.File
	if mirror {
		console = nil
		if logFile == "" {
			if logFile, err = config.DefaultLogFile(); err != nil {
				return fmt.Errorf("log file: %w", err)
			}
		}
	}
	log, logCloser, err := logger.Init(cfg.Log.Level, logFile, console)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	metrics, shutdownMetrics, err := observe.InitProvider(version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// Spawn
	cols, rows := cfg.Clients.DefaultCols, cfg.Clients.DefaultRows
	localCols, localRows, hasLocal := ptyctl.LocalSize(os.Stdin)
	if mirror && hasLocal {
		cols, rows = localCols, localRows
	}
	ctrl := ptyctl.New(log)
	events := ctrl.Subscribe()
	defer events.Close()
	if err := ctrl.Spawn(ptyctl.Options{
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.Cwd,
		Cols:    cols,
		Rows:    rows,
	}); err != nil {
		return fmt.Errorf("spawn %s: %w", cfg.Command, err)
	}
	defer ctrl.Kill()

	rl := relay.New(ctrl, relay.Options{
		Logger:          log,
		Metrics:         metrics,
		HistoryCapacity: cfg.History.Capacity,
		HistoryTrimTo:   cfg.History.TrimTo,
		DefaultCols:     cfg.Clients.DefaultCols,
		DefaultRows:     cfg.Clients.DefaultRows,
		SendQueue:       cfg.Clients.SendQueue,
		InputRate:       cfg.Clients.InputRate,
		InputBurst:      cfg.Clients.InputBurst,
		ASR:             asrConfig(cfg),
	})
	if mirror && hasLocal {
		rl.SetLocalSize(localCols, localRows)
	}

	gate, err := auth.NewGate(gateConfig(cfg), log, metrics)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	tun, err := tunnel.New(cfg.Tunnel.Mode, cfg.Tunnel.URL, cfg.Tunnel.Command, cfg.Tunnel.Args, cfg.Tunnel.Timeout, log)
	if err != nil {
		return err
	}
	publicURL, err := tun.Open(ctx, port)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	defer tun.Close()
	log.Info("serving", "url", publicURL, "addr", ln.Addr().String(), "command", cfg.Command)
	printBanner(os.Stderr, publicURL, cfg.Command, gate.Enabled())

	if mirror {
		if err := ctrl.StartMirror(os.Stdin, os.Stdout); err != nil {
			log.Warn("local mirror unavailable", "err", err)
		} else {
			ptyctl.WatchResize(ctx, os.Stdin, rl.SetLocalSize)
		}
	}

	if cfgPath != "" {
		overlay := func(c *config.Config) { applyFlags(cmd, c, f, args) }
		if err := watchConfig(ctx, cfgPath, reloader(overlay, gate, rl, log)); err != nil {
			log.Warn("config hot reload disabled", "err", err)
		}
	}

	srv := &http.Server{
		Handler: web.NewRouter(web.Deps{
			Logger:   log,
			Gate:     gate,
			Terminal: http.HandlerFunc(rl.ServeWS),
			Ready:    ctrl.Running,
			Version:  version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var exitCode int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		code, err := rl.Run(gctx, events.C)
		if err == nil {
			exitCode = code
			log.Info("process exited", "code", code)
			time.Sleep(exitLinger)
		} else {
			log.Info("shutting down")
			events.Close()
			ctrl.Kill()
		}
		rl.DisconnectAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if exitCode != 0 {
		return exitError{code: exitCode}
	}
	return nil
}

// watchConfig calls apply with every valid edit of the config file.
func watchConfig(ctx context.Context, path string, apply func(*config.Config)) error {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return err
	}
	return config.Watch(ctx, path, apply)
}

// reloader applies the live-reloadable settings of a reloaded config. The
// command-line flags are laid over the file again first so they keep
// precedence.
func reloader(overlay func(*config.Config), gate *auth.Gate, rl *relay.Relay, log *slog.Logger) func(*config.Config) {
	return func(c *config.Config) {
		overlay(c)
		logger.SetLevel(c.Log.Level)
		if err := gate.Update(gateConfig(c)); err != nil {
			log.Warn("pin not updated", "err", err)
		}
		rl.SetASRConfig(asrConfig(c))
	}
}

func printBanner(w io.Writer, url, command string, pinRequired bool) {
	fmt.Fprintf(w, "\nvoxterm %s: sharing %s\n  %s\n", version, command, url)
	if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
		fmt.Fprintln(w, qr.ToSmallString(false))
	}
	if pinRequired {
		fmt.Fprintln(w, "  PIN required")
	} else {
		fmt.Fprintln(w, "  no PIN set, anyone with the URL can type")
	}
	fmt.Fprintln(w)
}
