package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"wavetalk/audio"
	"wavetalk/beep"
	"wavetalk/config"
	"wavetalk/doctor"
	"wavetalk/log"
	"wavetalk/pipeline"
	"wavetalk/shutdown"
)

var version = "dev"

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.Version {
		fmt.Printf("wavetalk %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if cfg.Profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", cfg.Profile)
			if err := http.ListenAndServe(cfg.Profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if cfg.Doctor {
		return doctor.Run(doctor.Options{
			Provider: cfg.Provider,
			APIKey:   cfg.APIKey(),
			Language: cfg.Language,
			Hotkey:   cfg.Hotkey,
			Device:   cfg.Device,
			Format:   cfg.Format,
		})
	}

	ctx, cancel := shutdown.Context(context.Background())
	defer cancel()

	if len(cfg.Args) > 0 && cfg.Args[0] == "transcribe" {
		return runTranscribe(ctx, cfg, cfg.Args[1:], os.Stdout, os.Stderr)
	}

	if err := cfg.Validate(); err != nil {
		if log.Init() == nil {
			defer log.Close()
		}
		reportStartup(os.Stderr, err)
		return 1
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Infof("wavetalk %s starting: provider=%s runner=%s format=%s", version, cfg.Provider, cfg.Runner, cfg.Format)

	if cfg.Beep && !cfg.Test {
		go beep.Init()
	} else {
		beep.Disable()
	}

	if cfg.Setup && cfg.Device == "" {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			return 1
		}
		dev, err := audio.SelectDevice(actx, os.Stdin, os.Stdout)
		actx.Close()
		switch {
		case errors.Is(err, audio.ErrSelectionCancelled):
			return 0
		case err != nil:
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\nFalling back to default device\n", err)
		case dev != nil:
			cfg.Device = dev.Name
		}
	}

	if cfg.Test {
		if len(cfg.Args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: wavetalk -test <wav-file>")
			return 1
		}
		return runTestMode(ctx, cfg, cfg.Args[0], os.Stdin, os.Stdout)
	}
	return runLive(ctx, cfg)
}

// reportStartup prints a configuration failure and logs it.
func reportStartup(w io.Writer, err error) {
	e := pipeline.NewError(pipeline.KindConfiguration, 0, err)
	fmt.Fprintf(w, "Error: %v\n", e)
	log.PipelineError(0, e.Kind.String(), err)
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}
