// ABOUTME: Entry point for the solo zone control daemon
// ABOUTME: Parses CLI flags, starts the daemon, and handles shutdown signals
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/armintoepfer/solo/internal/app"
	"github.com/armintoepfer/solo/internal/config"
	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/ui"
	"github.com/armintoepfer/solo/internal/version"
)

var (
	httpAddr    = flag.String("addr", "", "HTTP listen address (overrides SOLO_HTTP_ADDR)")
	logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
	withTUI     = flag.Bool("tui", false, "show the terminal dashboard")
	logFile     = flag.String("log-file", "solo.log", "log file path")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.UserAgent())
		return
	}

	cfg := config.Load()
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	logCfg := logger.Config{Level: cfg.LogLevel}
	if *withTUI {
		// The dashboard owns the terminal; logs go only to the file.
		logCfg.Output = f
	} else {
		logCfg.Output = io.MultiWriter(os.Stdout, f)
	}
	logger.Init(logCfg)

	daemon, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "solo: %v\n", err)
		os.Exit(1)
	}
	if err := daemon.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "solo: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("solo %s up, api on %s", version.Version, daemon.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *withTUI {
		dash := ui.NewDashboard(daemon.Core(), daemon.Refresh)
		go func() {
			select {
			case <-sigChan:
				dash.Stop()
			case <-dash.QuitChan():
			}
		}()
		if err := dash.Run(); err != nil {
			logger.Errorf("dashboard: %v", err)
		}
	} else {
		<-sigChan
		logger.Infof("shutdown signal received")
	}

	daemon.Stop()
	logger.Infof("solo stopped")
}
