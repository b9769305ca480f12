package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"wavetalk/audio"
	"wavetalk/beep"
	"wavetalk/clipboard"
	"wavetalk/config"
	"wavetalk/encoder"
	"wavetalk/hotkey"
	"wavetalk/job"
	"wavetalk/log"
	"wavetalk/pipeline"
	"wavetalk/transcriber"
)

// buildService picks the job runner named by cfg.Runner.
func buildService(cfg *config.Config) (pipeline.Service, transcriber.Transcriber, error) {
	if cfg.Runner == config.RunnerExec {
		ex, err := job.NewExec(childArgs(cfg), cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return ex, nil, nil
	}
	t, err := transcriber.New(cfg.Provider, cfg.APIKey())
	if err != nil {
		return nil, nil, err
	}
	return job.NewInProcess(t, jobOptions(cfg)), t, nil
}

func jobOptions(cfg *config.Config) job.Options {
	return job.Options{
		Language:    cfg.Language,
		Model:       cfg.Model,
		SmartFormat: cfg.SmartFormat,
		ContentType: encoder.ContentType(cfg.Format),
		Timeout:     cfg.Timeout,
		Retries:     cfg.Retries,
	}
}

// childArgs forwards the settings the transcribe subcommand depends on.
// Keys travel through the inherited environment, never argv.
func childArgs(cfg *config.Config) []string {
	args := []string{
		"-provider", cfg.Provider,
		"-lang", cfg.Language,
		"-model", cfg.Model,
		"-format", cfg.Format,
		"-smart-format=" + strconv.FormatBool(cfg.SmartFormat),
		"-timeout", cfg.Timeout.String(),
		"-retries", strconv.Itoa(cfg.Retries),
	}
	if d := log.Dir(); d != "" {
		args = append(args, "-logpath", d)
	}
	return args
}

// warm opens the API connection ahead of the first upload.
func warm(t transcriber.Transcriber) {
	if w, ok := t.(interface{ Warm() }); ok {
		go w.Warm()
	}
}

func newReporter(w io.Writer) pipeline.Reporter {
	return pipeline.ReporterFunc(func(e *pipeline.Error) {
		beep.PlayError()
		fmt.Fprintf(w, "Error: %v\n", e)
	})
}

// cueObserver plays the start and end tones.
type cueObserver struct{}

func (cueObserver) RecordingChanged(recording bool) {
	if recording {
		beep.PlayStart()
	} else {
		beep.PlayEnd()
	}
}

func (cueObserver) LevelChanged(float64) {}

// drive forwards listener edges to the pipeline until events closes.
func drive(events <-chan hotkey.Event, p *pipeline.Pipeline) {
	for ev := range events {
		if ev.Edge == hotkey.Down {
			p.Start()
		} else {
			p.Stop()
		}
	}
}

// toggleOnEnter is the manual trigger used when the OS refuses a global
// hook: each Enter alternates between start and stop.
func toggleOnEnter(ctx context.Context, in io.Reader, p *pipeline.Pipeline) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if p.IsRecording() {
			p.Stop()
		} else {
			p.Start()
		}
	}
}

func openCapture(cfg *config.Config) (audio.Context, audio.CaptureDevice, error) {
	actx, err := audio.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("initializing audio: %w", err)
	}
	var dev *audio.DeviceInfo
	if cfg.Device != "" {
		if dev, err = audio.FindDevice(actx, cfg.Device); err != nil {
			actx.Close()
			return nil, nil, err
		}
	}
	capture, err := actx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		actx.Close()
		return nil, nil, err
	}
	if audio.IsBluetooth(capture.DeviceName()) {
		fmt.Fprintf(os.Stderr, "Warning: %q looks like a Bluetooth headset; switching it to mic mode lowers playback quality\n", capture.DeviceName())
	}
	return actx, capture, nil
}

func pipelineOptions(cfg *config.Config, device string) pipeline.Options {
	return pipeline.Options{
		CapturePath:   cfg.CapturePath,
		Device:        device,
		Format:        cfg.Format,
		Meter:         cfg.Meter(),
		LevelInterval: cfg.LevelInterval,
		Smoothing:     cfg.LevelSmoothing,
	}
}

func runLive(ctx context.Context, cfg *config.Config) int {
	service, t, err := buildService(cfg)
	if err != nil {
		reportStartup(os.Stderr, err)
		return 1
	}
	if t != nil {
		warm(t)
	}
	if cfg.AutoPaste {
		go func() {
			if err := clipboard.Init(); err != nil {
				log.Warnf("paste init failed: %v", err)
			}
		}()
	}

	actx, capture, err := openCapture(cfg)
	if err != nil {
		e := pipeline.NewError(pipeline.KindDevice, 0, err)
		log.PipelineError(0, e.Kind.String(), err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", e)
		return 1
	}
	defer actx.Close()
	defer capture.Close()

	rec := audio.NewRecorder(capture, cfg.Format)
	sink := clipboard.NewSink(cfg.AutoPaste, cfg.RestoreClipboard)
	p := pipeline.New(pipelineOptions(cfg, rec.DeviceName()), rec, service, sink, newReporter(os.Stderr))
	p.AddObserver(cueObserver{})

	trigger, _ := hotkey.ParseTrigger(cfg.Hotkey)
	hk, err := hotkey.New(trigger)
	var events <-chan hotkey.Event
	if err == nil {
		l := hotkey.NewListener(hk)
		defer l.Close()
		events, err = l.Subscribe()
	}
	if err != nil {
		log.Warnf("hotkey unavailable: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v\nPress Enter to start and stop recording.\n", err)
		go toggleOnEnter(ctx, os.Stdin, p)
	} else {
		fmt.Printf("Hold %s to dictate. Ctrl+C to quit.\n", trigger)
		go drive(events, p)
	}

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Info("shutdown")
	return 0
}

// waitSession blocks until a session newer than seen has finished and the
// machine is idle again. It returns the id of the last finished session.
func waitSession(p *pipeline.Pipeline, seen uint64, timeout time.Duration) (uint64, bool) {
	deadline := time.After(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		snap := p.Snapshot()
		if n := p.Sessions(); n > seen && snap.State == pipeline.Idle && snap.Last.ID == n {
			return n, true
		}
		select {
		case <-tick.C:
		case <-deadline:
			return seen, false
		}
	}
}
