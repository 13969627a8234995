package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkgerrors "github.com/hostelsync/hostelsync-backend/pkg/errors"
)

const (
	streamPath   = "/locations-api/ws"
	locationPath = "/locations-api/location"

	defaultWriteWait = 10 * time.Second
)

// Mode selects how a device delivers reports.
type Mode string

const (
	// ModeStream keeps one websocket open for every report.
	ModeStream Mode = "stream"
	// ModeOneShot dials, sends one frame and closes, per report.
	ModeOneShot Mode = "oneshot"
	// ModeHTTP posts each report to the REST endpoint.
	ModeHTTP Mode = "http"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeStream:
		return ModeStream, nil
	case ModeOneShot, "":
		return ModeOneShot, nil
	case ModeHTTP:
		return ModeHTTP, nil
	}
	return "", fmt.Errorf("unknown tracker mode %q", value)
}

// Report is the wire payload shared by the websocket and HTTP endpoints.
type Report struct {
	Username  string  `json:"username,omitempty"`
	Email     string  `json:"email,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Reporter delivers reports to the server.
type Reporter interface {
	Report(ctx context.Context, report Report) error
	Close() error
}

// ReporterOptions configures every reporter mode.
type ReporterOptions struct {
	ServerURL  string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	WriteWait  time.Duration
}

// NewReporter builds the reporter for mode.
func NewReporter(mode Mode, opts ReporterOptions) (Reporter, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.ServerURL), "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.ServerURL)
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	switch mode {
	case ModeStream:
		return &streamReporter{url: streamURL(base), opts: opts}, nil
	case ModeOneShot:
		return &oneShotReporter{url: streamURL(base), opts: opts}, nil
	case ModeHTTP:
		return &httpReporter{url: base.String() + locationPath, opts: opts}, nil
	}
	return nil, fmt.Errorf("unknown tracker mode %q", mode)
}

func streamURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	return u.String()
}

func authHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func dial(ctx context.Context, target string, opts ReporterOptions) (*websocket.Conn, error) {
	conn, resp, err := opts.Dialer.DialContext(ctx, target, authHeader(opts.Token))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

func writeReport(conn *websocket.Conn, report Report, wait time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return conn.WriteJSON(report)
}

// streamReporter reuses one connection. It redials after a failed write or
// once the server has closed the stream.
type streamReporter struct {
	url  string
	opts ReporterOptions

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func (r *streamReporter) Report(ctx context.Context, report Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && r.serverGone() {
		_ = r.conn.Close()
		r.conn, r.done = nil, nil
	}
	if r.conn == nil {
		conn, err := dial(ctx, r.url, r.opts)
		if err != nil {
			return err
		}
		r.conn = conn
		r.done = make(chan struct{})
		go drain(conn, r.done)
	}

	if err := writeReport(r.conn, report, r.opts.WriteWait); err != nil {
		r.closeLocked()
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// serverGone reports whether drain has seen the connection end.
func (r *streamReporter) serverGone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// drain reads until the connection fails so control frames (ping, close)
// are answered by the default handlers.
func drain(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (r *streamReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *streamReporter) closeLocked() error {
	if r.conn == nil {
		return nil
	}
	conn, done := r.conn, r.done
	r.conn, r.done = nil, nil

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.opts.WriteWait))
	select {
	case <-done:
	case <-time.After(r.opts.WriteWait):
	}
	return conn.Close()
}

type oneShotReporter struct {
	url  string
	opts ReporterOptions
}

func (r *oneShotReporter) Report(ctx context.Context, report Report) error {
	conn, err := dial(ctx, r.url, r.opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeReport(conn, report, r.opts.WriteWait); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.opts.WriteWait))
	return nil
}

func (r *oneShotReporter) Close() error { return nil }

type httpReporter struct {
	url  string
	opts ReporterOptions
}

func (r *httpReporter) Report(ctx context.Context, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range authHeader(r.opts.Token) {
		req.Header[k] = v
	}

	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &payload)
		err := fmt.Errorf("post report: status %d: %s", resp.StatusCode, payload.Message)
		if payload.Code == "" {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.Code(payload.Code), err, payload.Message)
	}
	return nil
}

func (r *httpReporter) Close() error { return nil }
