package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// Whisper talks to OpenAI-compatible /audio/transcriptions endpoints.
// Groq and OpenAI differ only in URL, default model and rate-limit headers.
type Whisper struct {
	provider     string
	apiKey       string
	defaultModel string
	// BaseURL overrides the transcription endpoint.
	BaseURL string
	client  *TracedClient
}

func NewGroq(apiKey string) *Whisper {
	apiURL := "https://api.groq.com/openai/v1/audio/transcriptions"
	return &Whisper{
		provider:     ProviderGroq,
		apiKey:       apiKey,
		defaultModel: "whisper-large-v3-turbo",
		BaseURL:      apiURL,
		client:       NewTracedClient(apiURL),
	}
}

func NewOpenAI(apiKey string) *Whisper {
	apiURL := "https://api.openai.com/v1/audio/transcriptions"
	return &Whisper{
		provider:     ProviderOpenAI,
		apiKey:       apiKey,
		defaultModel: "whisper-1",
		BaseURL:      apiURL,
		client:       NewTracedClient(apiURL),
	}
}

func (w *Whisper) Name() string { return w.provider }

func (w *Whisper) Warm() { w.client.Warm() }

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func extensionFor(contentType string) string {
	if contentType == "audio/wav" {
		return "wav"
	}
	return "flac"
}

func (w *Whisper) Transcribe(ctx context.Context, r Request) (*Result, error) {
	if err := CheckCredential(w.provider, w.apiKey); err != nil {
		return nil, err
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = "audio/flac"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="audio.%s"`, extensionFor(contentType)))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(r.Audio); err != nil {
		return nil, err
	}

	model := r.Model
	if model == "" {
		model = w.defaultModel
	}
	fields := [][2]string{{"model", model}, {"response_format", "verbose_json"}}
	if r.Language != "" {
		fields = append(fields, [2]string{"language", r.Language})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("multipart field %s: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Provider: w.provider, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var wResp whisperResponse
	if err := json.Unmarshal(resp.Body, &wResp); err != nil {
		return nil, fmt.Errorf("%s response parse error: %w", w.provider, err)
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:      wResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
		Duration:  wResp.Duration,
	}, nil
}
