package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	deepgramAPIURL       = "https://api.deepgram.com/v1/listen"
	DeepgramDefaultModel = "nova-3"
)

type Deepgram struct {
	apiKey string
	// BaseURL overrides the listen endpoint.
	BaseURL string
	client  *TracedClient
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{
		apiKey:  apiKey,
		BaseURL: deepgramAPIURL,
		client:  NewTracedClient("https://api.deepgram.com"),
	}
}

func (d *Deepgram) Name() string { return ProviderDeepgram }

// Warm pre-opens the TLS connection.
func (d *Deepgram) Warm() { d.client.Warm() }

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
		Channels int     `json:"channels"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *Deepgram) endpoint(r Request) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("deepgram url: %w", err)
	}
	q := u.Query()
	model := r.Model
	if model == "" {
		model = DeepgramDefaultModel
	}
	q.Set("model", model)
	if r.Language != "" {
		q.Set("language", r.Language)
	} else {
		q.Set("detect_language", "true")
	}
	q.Set("smart_format", strconv.FormatBool(r.SmartFormat))
	if r.Tag != "" {
		q.Set("tag", r.Tag)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Deepgram) Transcribe(ctx context.Context, r Request) (*Result, error) {
	if err := CheckCredential(ProviderDeepgram, d.apiKey); err != nil {
		return nil, err
	}
	endpoint, err := d.endpoint(r)
	if err != nil {
		return nil, err
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = "audio/flac"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(r.Audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Provider: ProviderDeepgram, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var dgResp deepgramResponse
	if err := json.Unmarshal(resp.Body, &dgResp); err != nil {
		return nil, fmt.Errorf("deepgram response parse error: %w", err)
	}

	// A missing channel or alternative means nothing was heard.
	var text string
	var confidence float64
	if len(dgResp.Results.Channels) > 0 && len(dgResp.Results.Channels[0].Alternatives) > 0 {
		alt := dgResp.Results.Channels[0].Alternatives[0]
		text = alt.Transcript
		confidence = alt.Confidence
	}

	remaining := firstNonEmpty(resp.Header,
		"x-dg-ratelimit-remaining", "x-ratelimit-remaining", "ratelimit-remaining")
	limit := firstNonEmpty(resp.Header,
		"x-dg-ratelimit-limit", "x-ratelimit-limit", "ratelimit-limit")

	return &Result{
		Text:       text,
		Metrics:    resp.Metrics,
		RateLimit:  remaining + "/" + limit,
		Confidence: confidence,
		Duration:   dgResp.Metadata.Duration,
	}, nil
}
