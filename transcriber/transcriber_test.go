package transcriber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	if got, want := m.Sum(), 195*time.Millisecond; got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit", "100")

	if got := firstNonEmpty(h, "X-Missing", "X-Rate-Limit"); got != "100" {
		t.Errorf("got %q, want %q", got, "100")
	}
	if got := firstNonEmpty(h, "X-A", "X-B"); got != "?" {
		t.Errorf("got %q, want %q", got, "?")
	}
}

func TestCheckCredential(t *testing.T) {
	for _, tt := range []struct {
		key string
		ok  bool
	}{
		{"", false},
		{"   ", false},
		{"YOUR_DEEPGRAM_API_KEY", false},
		{"your_key_here", false},
		{"<api-key>", false},
		{"xxxx", false},
		{"changeme", false},
		{"dg_3f9a1c", true},
	} {
		t.Run(tt.key, func(t *testing.T) {
			err := CheckCredential(ProviderDeepgram, tt.key)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMissingCredential) {
				t.Errorf("got %v, want ErrMissingCredential", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, p := range []string{ProviderDeepgram, ProviderGroq, ProviderOpenAI} {
		tr, err := New(p, "k")
		if err != nil {
			t.Fatalf("New(%q): %v", p, err)
		}
		if tr.Name() != p {
			t.Errorf("Name() = %q, want %q", tr.Name(), p)
		}
	}
	if _, err := New("whisper.cpp", "k"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	for code, want := range map[int]bool{400: false, 401: false, 429: true, 500: true, 503: true} {
		e := &APIError{StatusCode: code}
		if e.Temporary() != want {
			t.Errorf("Temporary() for %d = %v, want %v", code, e.Temporary(), want)
		}
	}
}

func deepgramServer(t *testing.T, status int, body string, seen func(*http.Request, []byte)) *Deepgram {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if seen != nil {
			seen(r, data)
		}
		w.Header().Set("x-dg-ratelimit-remaining", "9")
		w.Header().Set("x-dg-ratelimit-limit", "10")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	d := NewDeepgram("dg_live_key")
	d.BaseURL = srv.URL + "/v1/listen"
	return d
}

func TestDeepgramTranscribe(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	d := deepgramServer(t, 200,
		`{"metadata":{"duration":1.5},"results":{"channels":[{"alternatives":[{"transcript":"hello world","confidence":0.98}]}]}}`,
		func(r *http.Request, b []byte) { got, gotBody = r, b })

	res, err := d.Transcribe(context.Background(), Request{
		Audio:       []byte("fLaC-data"),
		ContentType: "audio/flac",
		Language:    "ru",
		Model:       "nova-2",
		SmartFormat: true,
		Tag:         "abc-123",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Confidence != 0.98 || res.Duration != 1.5 {
		t.Errorf("confidence/duration = %v/%v", res.Confidence, res.Duration)
	}
	if res.RateLimit != "9/10" {
		t.Errorf("rate limit = %q", res.RateLimit)
	}
	if got.Method != http.MethodPost {
		t.Errorf("method = %s", got.Method)
	}
	if h := got.Header.Get("Authorization"); h != "Token dg_live_key" {
		t.Errorf("authorization = %q", h)
	}
	if h := got.Header.Get("Content-Type"); h != "audio/flac" {
		t.Errorf("content type = %q", h)
	}
	q := got.URL.Query()
	for k, want := range map[string]string{"model": "nova-2", "language": "ru", "smart_format": "true", "tag": "abc-123"} {
		if q.Get(k) != want {
			t.Errorf("query %s = %q, want %q", k, q.Get(k), want)
		}
	}
	if string(gotBody) != "fLaC-data" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestDeepgramDefaults(t *testing.T) {
	var q map[string][]string
	d := deepgramServer(t, 200, `{}`, func(r *http.Request, _ []byte) { q = r.URL.Query() })
	if _, err := d.Transcribe(context.Background(), Request{Audio: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	if q["model"][0] != DeepgramDefaultModel {
		t.Errorf("model = %v", q["model"])
	}
	if _, ok := q["language"]; ok {
		t.Error("language should be omitted when empty")
	}
	if q["detect_language"][0] != "true" {
		t.Errorf("detect_language = %v", q["detect_language"])
	}
	if got := q["smart_format"]; len(got) != 1 || got[0] != "false" {
		t.Errorf("smart_format = %v, want explicit false", got)
	}
}

func TestDeepgramMissingTranscript(t *testing.T) {
	for name, body := range map[string]string{
		"no results":      `{"metadata":{"duration":0.4}}`,
		"no channels":     `{"results":{"channels":[]}}`,
		"no alternatives": `{"results":{"channels":[{"alternatives":[]}]}}`,
		"empty":           `{"results":{"channels":[{"alternatives":[{"transcript":""}]}]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			d := deepgramServer(t, 200, body, nil)
			res, err := d.Transcribe(context.Background(), Request{Audio: []byte{1}})
			if err != nil {
				t.Fatal(err)
			}
			if res.Text != "" {
				t.Errorf("text = %q, want empty", res.Text)
			}
		})
	}
}

func TestDeepgramMalformedBody(t *testing.T) {
	d := deepgramServer(t, 200, `not json`, nil)
	if _, err := d.Transcribe(context.Background(), Request{Audio: []byte{1}}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDeepgramAPIError(t *testing.T) {
	d := deepgramServer(t, 401, `{"err_code":"INVALID_AUTH"}`, nil)
	_, err := d.Transcribe(context.Background(), Request{Audio: []byte{1}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.StatusCode != 401 || !strings.Contains(apiErr.Body, "INVALID_AUTH") {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestPlaceholderKeySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d := NewDeepgram("YOUR_DEEPGRAM_API_KEY")
	d.BaseURL = srv.URL
	g := NewGroq("")
	g.BaseURL = srv.URL

	for _, tr := range []Transcriber{d, g} {
		_, err := tr.Transcribe(context.Background(), Request{Audio: []byte{1}})
		if !errors.Is(err, ErrMissingCredential) {
			t.Errorf("%s: got %v, want ErrMissingCredential", tr.Name(), err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("server saw %d requests", calls.Load())
	}
}

func TestDeepgramContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewDeepgram("dg_live_key")
	d.BaseURL = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Transcribe(ctx, Request{Audio: []byte{1}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestWhisperTranscribe(t *testing.T) {
	var fields = map[string]string{}
	var fileType, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
			fileType = fh[0].Header.Get("Content-Type")
		}
		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Header().Set("x-ratelimit-limit-requests", "100")
		io.WriteString(w, `{"text":"привет","duration":2.0}`)
	}))
	defer srv.Close()

	g := NewGroq("gsk_live")
	g.BaseURL = srv.URL
	res, err := g.Transcribe(context.Background(), Request{Audio: []byte("RIFF"), ContentType: "audio/wav", Language: "ru"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "привет" || res.RateLimit != "99/100" || res.Duration != 2.0 {
		t.Errorf("result = %+v", res)
	}
	if auth != "Bearer gsk_live" {
		t.Errorf("authorization = %q", auth)
	}
	want := map[string]string{"model": "whisper-large-v3-turbo", "language": "ru", "response_format": "verbose_json"}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
	if fileType != "audio/wav" {
		t.Errorf("file content type = %q", fileType)
	}
}

func TestWhisperAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-live")
	o.BaseURL = srv.URL
	_, err := o.Transcribe(context.Background(), Request{Audio: []byte{1}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 || !apiErr.Temporary() {
		t.Fatalf("got %v", err)
	}
}

func TestFakeTranscriber(t *testing.T) {
	f := NewFake("hi", nil)
	res, err := f.Transcribe(context.Background(), Request{Tag: "t1"})
	if err != nil || res.Text != "hi" {
		t.Fatalf("got %v, %v", res, err)
	}
	if reqs := f.Requests(); len(reqs) != 1 || reqs[0].Tag != "t1" {
		t.Errorf("requests = %+v", reqs)
	}

	f.Delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Transcribe(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want canceled", err)
	}
}
