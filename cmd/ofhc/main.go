// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/amd/ofhc"
	"github.com/amd/ofhc/internal/config"
	"github.com/amd/ofhc/internal/log"
	"github.com/amd/ofhc/internal/version"
)

func main() {
	os.Exit(run())
}

// run parses the command line, builds the harness, and drives one full run.
// It returns the process exit code rather than calling os.Exit directly, so
// deferred cleanup (Harness.Close) always executes.
func run() int {
	runDir := flag.String("run_dir", "", "directory holding the partition helper script; overrides Run_Directory from the settings document")
	logDirFlag := flag.String("log_dir", "", "directory for result and command logs; overrides Log_Directory from the settings document")
	logLevel := flag.String("log_level", "", "log verbosity: bare, all, excess, or debug; overrides Log_Level from the settings document")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <settings>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "settings is a path to a YAML or JSON settings file, or an inline JSON string.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return 0
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return 1
	}
	settingsArg := flag.Arg(0)

	// Loaded once here, purely to seed the logger before ofhc.New does the
	// authoritative load; any error is swallowed since New reports it.
	cfg, _ := config.Load(settingsArg)

	level := resolveLogLevel(*logLevel, cfg)
	logDir := resolveLogDir(*logDirFlag, cfg)

	logger, debugLogFile := buildLogger(level, logDir)
	log.SetLogger(logger)
	if debugLogFile != nil {
		defer debugLogFile.Close()
	}

	log.Infof("starting %s", version.GetFullVersion())

	var opts []ofhc.Option
	opts = append(opts, ofhc.WithLogger(logger))
	if *runDir != "" {
		opts = append(opts, ofhc.WithRunDir(*runDir))
	}
	if *logDirFlag != "" {
		opts = append(opts, ofhc.WithLogDir(*logDirFlag))
	}

	h, err := ofhc.New(settingsArg, opts...)
	if err != nil {
		log.Errorf("failed to build harness: %v", err)
		return 1
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Errorf("error during shutdown: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := h.Run(ctx); err != nil {
		log.Errorf("run aborted: %v", err)
		return 1
	}

	log.Infof("test matrix exhausted, run complete")
	return 0
}

// resolveLogDir honors the same override-beats-config rule ofhc.New applies,
// so the logger can be built against the real log directory before New loads
// the settings document again and reports any authoritative load error. cfg
// is nil when the early load failed.
func resolveLogDir(override string, cfg *config.Config) string {
	if override != "" {
		return override
	}
	if cfg == nil {
		return ""
	}
	return cfg.LogDirectory
}

// resolveLogLevel honors the same override-beats-config rule: an explicit
// --log_level flag wins, otherwise the settings document's Log_Level key is
// used, otherwise parseLogLevel's own "all" default applies.
func resolveLogLevel(override string, cfg *config.Config) log.Level {
	if override != "" {
		return parseLogLevel(override)
	}
	if cfg == nil {
		return parseLogLevel("")
	}
	return parseLogLevel(cfg.LogLevel)
}

// buildLogger constructs the logrus-backed logger for the given level and log
// directory. At Debug level, diagnostic lines are tee'd to both stderr and
// <logDir>/debug.log, per the harness's documented log outputs; the returned
// *os.File (non-nil only in that case) must be closed by the caller once
// logging is done. Any other level, or a failure to open debug.log, falls
// back to stderr alone.
func buildLogger(level log.Level, logDir string) (log.Logger, *os.File) {
	if level != log.LevelDebug || logDir == "" {
		return log.NewLogrusLogger(os.Stderr, level), nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "could not create log directory %q for debug.log: %v\n", logDir, err)
		return log.NewLogrusLogger(os.Stderr, level), nil
	}
	f, err := os.OpenFile(filepath.Join(logDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open debug.log in %q: %v\n", logDir, err)
		return log.NewLogrusLogger(os.Stderr, level), nil
	}
	return log.NewLogrusLogger(io.MultiWriter(os.Stderr, f), level), f
}

// parseLogLevel accepts both the CLI flag's lowercase spelling and the
// settings document's capitalized Log_Level values (Bare, All, Excess,
// Debug per spec.md), case-insensitively.
func parseLogLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "bare":
		return log.LevelBare
	case "excess":
		return log.LevelExcess
	case "debug":
		return log.LevelDebug
	default:
		return log.LevelAll
	}
}
