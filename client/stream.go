package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskpulse/domain"
)

const (
	sessionFrame = "session"
	maxFrameSize = 1 << 20
)

// ReconnectConfig controls how the stream recovers from a dropped connection.
type ReconnectConfig struct {
	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration
	// MaxAttempts caps consecutive failed reconnection attempts. Zero retries
	// forever.
	MaxAttempts int
	// HandshakeTimeout bounds the time until the session frame arrives.
	HandshakeTimeout time.Duration
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		ReconnectDelay:   time.Second,
		MaxAttempts:      5,
		HandshakeTimeout: 20 * time.Second,
	}
}

// Frame is one server-sent event.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

// StreamHandler receives the life cycle of each connection. OnDisconnect is
// called once for every connection that reached OnConnect. An error returned
// from OnConnect or OnFrame drops the connection.
type StreamHandler interface {
	OnConnect(ctx context.Context, sessionID string) error
	OnFrame(f Frame) error
	OnDisconnect(err error)
}

// Stream is the push channel from the server. It keeps one connection open
// and reconnects according to its ReconnectConfig.
type Stream struct {
	url     string
	http    *http.Client
	session *Session
	cfg     ReconnectConfig
}

// NewStream creates a new Stream. hc must not carry an overall timeout.
func NewStream(baseURL string, session *Session, hc *http.Client, cfg ReconnectConfig) *Stream {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Stream{
		url:     strings.TrimRight(baseURL, "/") + "/api/stream",
		http:    hc,
		session: session,
		cfg:     cfg,
	}
}

// Run connects and dispatches frames to h until ctx ends, the server rejects
// the credential, or MaxAttempts consecutive reconnections fail.
func (s *Stream) Run(ctx context.Context, h StreamHandler) error {
	attempt := 0
	for {
		connected, err := s.connect(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrAuthorization) {
			return err
		}
		if connected {
			attempt = 0
		}
		if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("stream: giving up after %d attempts: %w", attempt, err)
		}
		attempt++
		log.WithError(err).WithField("attempt", attempt).Warn("stream disconnected; reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Stream) connect(ctx context.Context, h StreamHandler) (connected bool, err error) {
	token := s.session.Token()
	if token == "" {
		return false, fmt.Errorf("%w: not signed in", domain.ErrAuthorization)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var handshake *time.Timer
	if s.cfg.HandshakeTimeout > 0 {
		handshake = time.AfterFunc(s.cfg.HandshakeTimeout, cancel)
		defer handshake.Stop()
	}

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := s.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, fmt.Errorf("%w: %s", domain.ErrAuthorization, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: stream status %s", domain.ErrTransport, resp.Status)
	}

	frames := newFrameReader(resp.Body)
	first, err := frames.next()
	if err != nil {
		return false, fmt.Errorf("%w: handshake: %w", domain.ErrTransport, err)
	}
	if handshake != nil && !handshake.Stop() {
		return false, fmt.Errorf("%w: handshake timed out", domain.ErrTransport)
	}
	var info struct {
		SessionID string `json:"sessionId"`
	}
	if first.Event != sessionFrame || sonic.Unmarshal(first.Data, &info) != nil || info.SessionID == "" {
		return false, fmt.Errorf("%w: unexpected first frame %q", domain.ErrTransport, first.Event)
	}

	s.session.setStreamID(info.SessionID)
	defer func() {
		s.session.setStreamID("")
		h.OnDisconnect(err)
	}()
	if err = h.OnConnect(connCtx, info.SessionID); err != nil {
		return true, err
	}
	for {
		f, ferr := frames.next()
		if ferr != nil {
			return true, fmt.Errorf("%w: %w", domain.ErrTransport, ferr)
		}
		if err = h.OnFrame(f); err != nil {
			return true, err
		}
	}
}

type frameReader struct {
	sc *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	return &frameReader{sc: sc}
}

// next returns the next event that carries data. Comments and keepalives are
// skipped.
func (r *frameReader) next() (Frame, error) {
	var f Frame
	var data strings.Builder
	hasData := false
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if !hasData {
				f = Frame{}
				continue
			}
			if f.Event == "" {
				f.Event = "message"
			}
			f.Data = []byte(data.String())
			return f, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			f.ID = value
		case "event":
			f.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
