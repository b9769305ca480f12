package transcriber

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// maxReplyBytes bounds how much of a vendor reply is read into memory.
const maxReplyBytes = 4 << 20

// TracedClient keeps one pooled connection per API host and records the
// time spent in each phase of every request.
type TracedClient struct {
	hc      *http.Client
	warmURL string
}

func NewTracedClient(warmURL string) *TracedClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &TracedClient{hc: &http.Client{Transport: transport}, warmURL: warmURL}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// phases collects httptrace callbacks into a NetworkMetrics.
type phases struct {
	m NetworkMetrics

	getConn, dns, connect, handshake time.Time
	gotConn, headers, written, first time.Time
}

func (p *phases) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { p.getConn = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			p.gotConn = time.Now()
			p.m.ConnWait = p.gotConn.Sub(p.getConn)
			p.m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { p.dns = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { p.m.DNS = time.Since(p.dns) },
		ConnectStart:      func(string, string) { p.connect = time.Now() },
		ConnectDone:       func(string, string, error) { p.m.TCP = time.Since(p.connect) },
		TLSHandshakeStart: func() { p.handshake = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			p.m.TLS = time.Since(p.handshake)
			p.m.TLSProtocol = cs.NegotiatedProtocol
		},
		WroteHeaders: func() {
			p.headers = time.Now()
			p.m.ReqHeaders = p.headers.Sub(p.gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			p.written = time.Now()
			p.m.ReqBody = p.written.Sub(p.headers)
		},
		GotFirstResponseByte: func() {
			p.first = time.Now()
			p.m.TTFB = p.first.Sub(p.written)
		},
	}
}

// Do sends req and reads the whole reply, which is capped at 4 MiB.
func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	var p phases
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))
	start := time.Now()

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if !p.first.IsZero() {
		p.m.Download = time.Since(p.first)
	}
	p.m.Total = time.Since(start)

	m := p.m
	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    &m,
	}, nil
}

// Warm opens a connection to the API host so the first upload skips the
// TLS handshake. It returns the handshake time, or 0 on failure.
func (c *TracedClient) Warm() time.Duration {
	if c.warmURL == "" {
		return 0
	}
	req, err := http.NewRequest(http.MethodHead, c.warmURL, nil)
	if err != nil {
		return 0
	}
	var p phases
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return p.m.TLS
}
