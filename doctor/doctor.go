// Package doctor runs interactive checks of everything wavetalk needs:
// a credential, the hotkey, a microphone and the clipboard.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wavetalk/audio"
	"wavetalk/clipboard"
	"wavetalk/encoder"
	"wavetalk/hotkey"
	"wavetalk/level"
	"wavetalk/shutdown"
	"wavetalk/transcriber"
)

type Options struct {
	Provider string
	APIKey   string
	Language string
	Hotkey   string
	Device   string
	Format   string

	In  io.Reader
	Out io.Writer
}

type runner struct {
	opts Options
	in   *bufio.Reader
	out  io.Writer
}

type check struct {
	name string
	run  func(*runner) bool
}

var checks = []check{
	{"Credential", (*runner).checkCredential},
	{"Hotkey detection", (*runner).checkHotkey},
	{"Microphone and transcription", (*runner).checkMic},
	{"Clipboard and paste", (*runner).checkClipboard},
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). A failed check skips the rest.
func Run(opts Options) int {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	resetTerminal()
	ctx, cancel := shutdown.Context(context.Background())
	defer cancel()
	go func() {
		<-ctx.Done()
		if shutdown.Interrupted(ctx) {
			fmt.Fprintln(opts.Out, "\nInterrupted")
			resetTerminal()
			os.Exit(1)
		}
	}()

	r := &runner{opts: opts, in: bufio.NewReader(opts.In), out: opts.Out}
	fmt.Fprintln(r.out, "wavetalk doctor - interactive system diagnostics")
	fmt.Fprintln(r.out, "================================================")
	return r.runChecks(checks)
}

func (r *runner) runChecks(list []check) int {
	for i, c := range list {
		fmt.Fprintf(r.out, "\n[%d/%d] %s\n", i+1, len(list), c.name)
		if !c.run(r) {
			fmt.Fprintln(r.out, "\nSome checks failed. See details above.")
			return 1
		}
	}
	fmt.Fprintln(r.out, "\nAll checks passed!")
	return 0
}

func (r *runner) pass(format string, args ...any) bool {
	fmt.Fprintf(r.out, "  PASS: "+format+"\n", args...)
	return true
}

func (r *runner) fail(format string, args ...any) bool {
	fmt.Fprintf(r.out, "  FAIL: "+format+"\n", args...)
	return false
}

func (r *runner) confirm(prompt string) bool {
	fmt.Fprintf(r.out, "%s [y/n]: ", prompt)
	answer, _ := r.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (r *runner) checkCredential() bool {
	if err := transcriber.CheckCredential(r.opts.Provider, r.opts.APIKey); err != nil {
		return r.fail("%v", err)
	}
	return r.pass("%s key present", r.opts.Provider)
}

func (r *runner) checkHotkey() bool {
	trigger, err := hotkey.ParseTrigger(r.opts.Hotkey)
	if err != nil {
		return r.fail("%v", err)
	}
	msg, err := hotkey.Diagnose(trigger)
	if err != nil {
		return r.fail("%v", err)
	}
	if msg != "" {
		fmt.Fprintf(r.out, "  %s\n", msg)
	}

	hk, err := hotkey.New(trigger)
	if err != nil {
		return r.fail("%v", err)
	}
	l := hotkey.NewListener(hk)
	defer l.Close()
	events, err := l.Subscribe()
	if err != nil {
		return r.fail("could not register hotkey: %v", err)
	}

	fmt.Fprintf(r.out, "Press and release %s...\n", trigger)
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Edge == hotkey.Up {
				resetTerminal()
				return r.pass("hotkey press and release detected")
			}
		case <-deadline:
			return r.fail("timeout waiting for hotkey")
		}
	}
}

func (r *runner) checkMic() bool {
	actx, err := audio.NewContext()
	if err != nil {
		return r.fail("cannot connect to audio: %v", err)
	}
	defer actx.Close()

	var dev *audio.DeviceInfo
	if r.opts.Device != "" {
		if dev, err = audio.FindDevice(actx, r.opts.Device); err != nil {
			return r.fail("%v", err)
		}
	}
	name := "system default"
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			fmt.Fprintln(r.out, "  Warning: Bluetooth microphones switch headsets to a low quality profile")
		}
	}
	fmt.Fprintf(r.out, "Using device: %s\n", name)

	capture, err := actx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return r.fail("%v", err)
	}
	defer capture.Close()

	format := r.opts.Format
	if format == "" {
		format = encoder.FormatFLAC
	}
	path := filepath.Join(os.TempDir(), "wavetalk_doctor"+encoder.Extension(format))
	defer os.Remove(path)

	fmt.Fprint(r.out, "Press Enter and speak for 3 seconds...")
	r.in.ReadString('\n')

	rec := audio.NewRecorder(capture, format)
	h, err := rec.Start(path)
	if err != nil {
		return r.fail("recording error: %v", err)
	}
	meter := level.NewMeter()
	var mu sync.Mutex
	var peak float64
	stopPoll := level.Poll(level.DefaultInterval, func(time.Time) {
		v := meter.Fill(rec.SampleLevel(h)).Value
		mu.Lock()
		peak = max(peak, v)
		mu.Unlock()
	})
	time.Sleep(3 * time.Second)
	stopPoll()
	if _, err := rec.Stop(h); err != nil {
		return r.fail("recording error: %v", err)
	}
	fmt.Fprintf(r.out, "  Recorded %.1fs, peak level %.2f\n", h.Duration().Seconds(), peak)
	if peak == 0 {
		return r.fail("no signal from the microphone")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return r.fail("%v", err)
	}
	t, err := transcriber.New(r.opts.Provider, r.opts.APIKey)
	if err != nil {
		return r.fail("%v", err)
	}
	fmt.Fprintf(r.out, "  Uploading %.1f KB to %s...\n", float64(len(data))/1024, t.Name())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := t.Transcribe(ctx, transcriber.Request{
		Audio:       data,
		ContentType: encoder.ContentType(format),
		Language:    r.opts.Language,
		SmartFormat: true,
	})
	if err != nil {
		return r.fail("transcription error: %v", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(r.out, "\n  Transcribed text: %s\n\n", text)
	if !r.confirm("Is this correct?") {
		return r.fail("transcription not confirmed")
	}
	return r.pass("transcription verified by user")
}

func (r *runner) checkClipboard() bool {
	msg, err := clipboard.Verify()
	if err != nil {
		fmt.Fprintf(r.out, "  FAIL: %v\n", err)
		fmt.Fprintln(r.out, pasteHint)
		return false
	}
	fmt.Fprintf(r.out, "  %s\n", msg)

	const sentinel = "wavetalk-preserve-check"
	if err := clipboard.Copy(sentinel); err != nil {
		return r.fail("clipboard copy failed: %v", err)
	}

	fmt.Fprintln(r.out, "Focus on a text editor window...")
	for i := 5; i > 0; i-- {
		fmt.Fprintf(r.out, "  %d...\n", i)
		time.Sleep(time.Second)
	}

	sink := clipboard.NewSink(true, true)
	if err := sink.Deliver(context.Background(), "wavetalk-doctor-test"); err != nil {
		return r.fail("%v", err)
	}

	resetTerminal()
	if !r.confirm("\nDid the text \"wavetalk-doctor-test\" appear?") {
		return r.fail("clipboard/paste not confirmed")
	}

	restored, err := clipboard.Read()
	if err != nil {
		return r.fail("could not read clipboard after restore: %v", err)
	}
	if restored != sentinel {
		return r.fail("clipboard not preserved (got %q, want %q)", restored, sentinel)
	}
	return r.pass("clipboard paste and restore verified")
}
