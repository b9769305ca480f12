// Package config resolves wavetalk settings from defaults, a .env file, the
// environment and command line flags, in increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"wavetalk/encoder"
	"wavetalk/hotkey"
	"wavetalk/level"
	"wavetalk/transcriber"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const DefaultLevelSmoothing = 0.3

const (
	RunnerInProcess = "inproc"
	RunnerExec      = "exec"
)

type Config struct {
	Provider    string
	DeepgramKey string
	GroqKey     string
	OpenAIKey   string
	Language    string
	Model       string // empty selects the provider default
	SmartFormat bool

	Format      string
	CapturePath string
	Device      string
	Hotkey      string

	AutoPaste        bool
	RestoreClipboard bool

	Runner  string
	Timeout time.Duration
	Retries int

	LevelOffset    float64
	LevelRange     float64
	LevelInterval  time.Duration
	// LevelSmoothing is the weight of each new level sample; 1 disables
	// smoothing.
	LevelSmoothing float64

	Beep    bool
	LogPath string
	Profile string

	Doctor  bool
	Setup   bool
	Test    bool
	Version bool

	// Args holds positional arguments left after flag parsing.
	Args []string
}

func Default() *Config {
	return &Config{
		Provider:       transcriber.ProviderDeepgram,
		Language:       "en",
		SmartFormat:    true,
		Format:         encoder.FormatFLAC,
		CapturePath:    filepath.Join(os.TempDir(), "wavetalk_input"+encoder.Extension(encoder.FormatFLAC)),
		Hotkey:         hotkey.DefaultTrigger,
		AutoPaste:      true,
		Runner:         RunnerInProcess,
		Timeout:        30 * time.Second,
		LevelOffset:    level.DefaultOffset,
		LevelRange:     level.DefaultRange,
		LevelInterval:  level.DefaultInterval,
		LevelSmoothing: DefaultLevelSmoothing,
		Beep:           true,
	}
}

// Load reads ./.env (if present), the environment and args.
func Load(args []string) (*Config, error) {
	return LoadFrom(args, ".env", os.Stderr)
}

// LoadFrom is Load with an explicit .env path and flag error output.
func LoadFrom(args []string, envFile string, output io.Writer) (*Config, error) {
	cfg := Default()

	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		dotenv = map[string]string{}
	}
	env := lookup{dotenv: dotenv}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	captureSet := env.get("WAVETALK_CAPTURE_PATH") != ""
	fs := cfg.flagSet(output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "capture" {
			captureSet = true
		}
	})
	// The default capture file follows the chosen format.
	if !captureSet {
		cfg.CapturePath = filepath.Join(os.TempDir(), "wavetalk_input"+encoder.Extension(cfg.Format))
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

func (c *Config) flagSet(output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("wavetalk", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&c.Provider, "provider", c.Provider, "Transcription provider: deepgram, groq or openai")
	fs.StringVar(&c.Language, "lang", c.Language, "Language code for transcription (e.g., en, ru). Empty = auto-detect")
	fs.StringVar(&c.Model, "model", c.Model, "Model id (default: nova-3 for deepgram, provider default otherwise)")
	fs.BoolVar(&c.SmartFormat, "smart-format", c.SmartFormat, "Ask the provider for punctuation and formatting")
	fs.StringVar(&c.Format, "format", c.Format, "Capture encoding: flac or wav")
	fs.StringVar(&c.CapturePath, "capture", c.CapturePath, "Capture file path (overwritten every session)")
	fs.StringVar(&c.Device, "device", c.Device, "Use named microphone device")
	fs.StringVar(&c.Hotkey, "hotkey", c.Hotkey, "Push-to-talk chord, e.g. ctrl+shift+space")
	fs.BoolVar(&c.AutoPaste, "autopaste", c.AutoPaste, "Auto-paste to focused window after transcription")
	fs.BoolVar(&c.RestoreClipboard, "restore-clipboard", c.RestoreClipboard, "Restore the previous clipboard text after pasting")
	fs.StringVar(&c.Runner, "runner", c.Runner, "Where transcription runs: inproc or exec")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Give up on a transcription after this long")
	fs.IntVar(&c.Retries, "retries", c.Retries, "Extra attempts after network errors or 5xx replies")
	fs.Float64Var(&c.LevelOffset, "level-offset", c.LevelOffset, "dB added to the power reading before scaling")
	fs.Float64Var(&c.LevelRange, "level-range", c.LevelRange, "dB span mapped onto the 0..1 level")
	fs.DurationVar(&c.LevelInterval, "level-interval", c.LevelInterval, "Level sampling period")
	fs.Float64Var(&c.LevelSmoothing, "level-smoothing", c.LevelSmoothing, "Weight of each new level sample in (0,1]; 1 disables smoothing")
	fs.BoolVar(&c.Beep, "beep", c.Beep, "Play start/stop/error tones")
	fs.StringVar(&c.LogPath, "logpath", c.LogPath, "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&c.Profile, "profile", c.Profile, "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	fs.BoolVar(&c.Doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&c.Setup, "setup", false, "Select microphone device (otherwise uses system default)")
	fs.BoolVar(&c.Test, "test", false, "Test mode (headless, stdin-driven)")
	fs.BoolVar(&c.Version, "version", false, "Print version and exit")
	return fs
}

type lookup struct{ dotenv map[string]string }

// get prefers the process environment over the .env file.
func (l lookup) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return l.dotenv[key]
}

func (c *Config) applyEnv(env lookup) error {
	str := func(key string, dst *string) {
		if v := env.get(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v := env.get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v := env.get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := env.get(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = d
		}
	}

	str("WAVETALK_PROVIDER", &c.Provider)
	str("DEEPGRAM_API_KEY", &c.DeepgramKey)
	str("GROQ_API_KEY", &c.GroqKey)
	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("WAVETALK_LANGUAGE", &c.Language)
	str("WAVETALK_MODEL", &c.Model)
	boolean("WAVETALK_SMART_FORMAT", &c.SmartFormat)
	str("WAVETALK_FORMAT", &c.Format)
	str("WAVETALK_CAPTURE_PATH", &c.CapturePath)
	str("WAVETALK_DEVICE", &c.Device)
	str("WAVETALK_HOTKEY", &c.Hotkey)
	boolean("WAVETALK_AUTOPASTE", &c.AutoPaste)
	boolean("WAVETALK_RESTORE_CLIPBOARD", &c.RestoreClipboard)
	str("WAVETALK_RUNNER", &c.Runner)
	duration("WAVETALK_TIMEOUT", &c.Timeout)
	if v := env.get("WAVETALK_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WAVETALK_RETRIES=%q: %w", v, err))
		} else {
			c.Retries = n
		}
	}
	float("WAVETALK_LEVEL_OFFSET", &c.LevelOffset)
	float("WAVETALK_LEVEL_RANGE", &c.LevelRange)
	duration("WAVETALK_LEVEL_INTERVAL", &c.LevelInterval)
	float("WAVETALK_LEVEL_SMOOTHING", &c.LevelSmoothing)
	boolean("WAVETALK_BEEP", &c.Beep)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case transcriber.ProviderGroq:
		return c.GroqKey
	case transcriber.ProviderOpenAI:
		return c.OpenAIKey
	}
	return c.DeepgramKey
}

// Meter returns the level meter described by the config.
func (c *Config) Meter() level.Meter {
	return level.Meter{Offset: c.LevelOffset, Range: c.LevelRange}
}

// Validate checks option values and the credential without any I/O.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}
	switch c.Provider {
	case transcriber.ProviderDeepgram, transcriber.ProviderGroq, transcriber.ProviderOpenAI:
	default:
		return invalid("unknown provider %q (use deepgram, groq or openai)", c.Provider)
	}
	switch c.Format {
	case encoder.FormatFLAC, encoder.FormatWAV:
	default:
		return invalid("unknown format %q (use flac or wav)", c.Format)
	}
	switch c.Runner {
	case RunnerInProcess, RunnerExec:
	default:
		return invalid("unknown runner %q (use inproc or exec)", c.Runner)
	}
	if c.LevelRange <= 0 {
		return invalid("level range must be positive, got %v", c.LevelRange)
	}
	if c.LevelInterval <= 0 {
		return invalid("level interval must be positive, got %v", c.LevelInterval)
	}
	if c.LevelSmoothing <= 0 || c.LevelSmoothing > 1 {
		return invalid("level smoothing must be in (0,1], got %v", c.LevelSmoothing)
	}
	if c.Timeout <= 0 {
		return invalid("timeout must be positive, got %v", c.Timeout)
	}
	if c.Retries < 0 {
		return invalid("retries must not be negative, got %d", c.Retries)
	}
	if c.CapturePath == "" {
		return invalid("capture path is empty")
	}
	if _, err := hotkey.ParseTrigger(c.Hotkey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := transcriber.CheckCredential(c.Provider, c.APIKey()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
