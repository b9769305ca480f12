package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrMissingCredential is returned before any network I/O when the API key
// is empty or still a placeholder.
var ErrMissingCredential = errors.New("missing API key")

// APIError is a non-2xx reply from a transcription endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request might succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// Request is one recording to transcribe.
type Request struct {
	Audio       []byte
	ContentType string
	Language    string // empty lets the provider detect it
	Model       string // empty uses the provider default
	SmartFormat bool
	Tag         string // correlation id, forwarded where the API supports it
}

type Result struct {
	Text       string
	Metrics    *NetworkMetrics
	RateLimit  string // "remaining/limit"
	Confidence float64
	Duration   float64 // seconds of audio as reported by the provider
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

const (
	ProviderDeepgram = "deepgram"
	ProviderGroq     = "groq"
	ProviderOpenAI   = "openai"
)

// KeyEnv returns the environment variable holding provider's API key.
func KeyEnv(provider string) string {
	switch provider {
	case ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "DEEPGRAM_API_KEY"
	}
}

func isPlaceholder(key string) bool {
	k := strings.ToUpper(strings.TrimSpace(key))
	switch {
	case k == "":
		return true
	case strings.Contains(k, "YOUR_"), strings.Contains(k, "_HERE"):
		return true
	case strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">"):
		return true
	case k == "CHANGEME", k == "TODO", strings.Trim(k, "X") == "":
		return true
	}
	return false
}

// CheckCredential rejects an empty or placeholder key for provider.
func CheckCredential(provider, key string) error {
	if isPlaceholder(key) {
		return fmt.Errorf("%w: set %s", ErrMissingCredential, KeyEnv(provider))
	}
	return nil
}

// New builds the client for provider.
func New(provider, apiKey string) (Transcriber, error) {
	switch provider {
	case ProviderDeepgram:
		return NewDeepgram(apiKey), nil
	case ProviderGroq:
		return NewGroq(apiKey), nil
	case ProviderOpenAI:
		return NewOpenAI(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use deepgram, groq or openai)", provider)
	}
}
