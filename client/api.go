package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"taskpulse/domain"
)

const (
	headerSessionID      = "X-Session-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

// ErrDuplicate is returned when the server already saw the idempotency key.
var ErrDuplicate = errors.New("duplicate request")

// API is a REST client for the task routes. Every call carries the session's
// bearer token and, when a stream is open, its id so the server does not echo
// the resulting event back to this client.
type API struct {
	BaseURL string
	HTTP    *http.Client
	session *Session
}

// NewAPI creates a new API client. A nil hc uses http.DefaultClient.
func NewAPI(baseURL string, session *Session, hc *http.Client) *API {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, session: session}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// List fetches the full collection visible to the signed-in user.
func (a *API) List(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := a.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// Create posts a new task. A non-empty key is sent as Idempotency-Key.
func (a *API) Create(ctx context.Context, f domain.TaskFields, key string) (domain.Task, error) {
	var headers map[string]string
	if key != "" {
		headers = map[string]string{headerIdempotencyKey: key}
	}
	var t domain.Task
	err := a.do(ctx, http.MethodPost, "/api/tasks", f, headers, &t)
	return t, err
}

func (a *API) Update(ctx context.Context, id string, f domain.TaskFields) (domain.Task, error) {
	var t domain.Task
	err := a.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), f, nil, &t)
	return t, err
}

func (a *API) Delete(ctx context.Context, id string) (domain.Ack, error) {
	var ack domain.Ack
	err := a.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, &ack)
	return ack, err
}

// Announce sends a presence ping for the open stream.
func (a *API) Announce(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodPost, "/api/presence", map[string]string{"name": name}, nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	token := a.session.Token()
	if token == "" {
		return fmt.Errorf("%w: not signed in", domain.ErrAuthorization)
	}

	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if id := a.session.StreamID(); id != "" {
		req.Header.Set(headerSessionID, id)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrTransport, err)
	}
	return nil
}

// responseError turns an error response into the matching error kind.
func responseError(resp *http.Response) error {
	var body errorBody
	_ = sonic.ConfigStd.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	if body.Message == "" {
		body.Message = resp.Status
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", domain.ErrTransport, body.Message)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrDuplicate, body.Message)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrAuthorization, body.Message)
	}
	return domain.ErrorFromKind(body.Error, body.Message)
}
