package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskpulse/broadcast"
	"taskpulse/domain"
)

const (
	maxBodySize = 64 << 10

	headerSessionID      = "X-Session-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Authority  *domain.Authority
	Dispatcher *broadcast.Dispatcher
	Auth       Authenticator
	// Deduper is optional; without it Idempotency-Key headers are ignored.
	Deduper   Deduper
	Logger    *log.Logger
	Heartbeat time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = 30 * time.Second
	}
	e.JSONSerializer = sonicSerializer{}

	e.GET("/api/tasks", listTasks(d))
	e.POST("/api/tasks", createTask(d))
	e.PUT("/api/tasks/:id", updateTask(d))
	e.DELETE("/api/tasks/:id", deleteTask(d))
	e.GET("/api/stream", streamEvents(d))
	e.POST("/api/presence", postPresence(d))
	e.GET("/healthz", healthz(d))
}

type taskOp func(ctx context.Context, c echo.Context, owner string, m *requestMetrics) (int, any, error)

// serveTask runs the shared request pipeline for task routes: span and
// metrics, authentication, origin tagging, error mapping and encoding.
func serveTask(d Deps, route string, op taskOp) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), d.Logger, c.Request().Method, route)
		status := 0
		var opErr error
		defer func() {
			if status == 0 {
				status = c.Response().Status
			}
			m.Log(status, opErr)
		}()

		authStart := time.Now()
		owner, authErr := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			m.SetErrorStage("auth")
			opErr = authError(authErr)
			status, err = writeError(c, opErr)
			return err
		}
		m.SetOwner(owner)
		ctx = domain.WithOrigin(ctx, c.Request().Header.Get(headerSessionID))

		code, body, opErr := op(ctx, c, owner, m)
		if opErr != nil {
			if m.errorStage == "" {
				m.SetErrorStage("store")
			}
			status, err = writeError(c, opErr)
			return err
		}

		encodeStart := time.Now()
		status = code
		err = c.JSON(code, body)
		m.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			m.SetErrorStage("encode_response")
			opErr = err
		}
		return err
	}
}

func listTasks(d Deps) echo.HandlerFunc {
	return serveTask(d, "/api/tasks", func(ctx context.Context, _ echo.Context, owner string, m *requestMetrics) (int, any, error) {
		start := time.Now()
		tasks, err := d.Authority.List(ctx, owner)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return 0, nil, err
		}
		m.SetTasksReturned(len(tasks))
		return http.StatusOK, tasks, nil
	})
}

func createTask(d Deps) echo.HandlerFunc {
	return serveTask(d, "/api/tasks", func(ctx context.Context, c echo.Context, owner string, m *requestMetrics) (int, any, error) {
		fields, err := decodeFields(c)
		if err != nil {
			m.SetErrorStage("decode")
			return 0, nil, err
		}

		key := c.Request().Header.Get(headerIdempotencyKey)
		if key != "" && d.Deduper != nil {
			added, err := d.Deduper.Add(ctx, owner, key)
			if err != nil {
				m.SetErrorStage("idempotency")
				return 0, nil, err
			}
			if !added {
				m.SetErrorStage("idempotency")
				return 0, nil, errDuplicateRequest
			}
		}

		start := time.Now()
		task, err := d.Authority.Create(ctx, owner, fields)
		m.ObserveStore(time.Since(start))
		if err != nil {
			if key != "" && d.Deduper != nil {
				if rerr := d.Deduper.Remove(context.WithoutCancel(ctx), owner, key); rerr != nil {
					log.WithError(rerr).WithFields(log.Fields{"key": key, "owner": owner}).Error("idempotency key release failed")
				}
			}
			return 0, nil, err
		}
		return http.StatusCreated, task, nil
	})
}

func updateTask(d Deps) echo.HandlerFunc {
	return serveTask(d, "/api/tasks/:id", func(ctx context.Context, c echo.Context, owner string, m *requestMetrics) (int, any, error) {
		fields, err := decodeFields(c)
		if err != nil {
			m.SetErrorStage("decode")
			return 0, nil, err
		}
		start := time.Now()
		task, err := d.Authority.Update(ctx, owner, c.Param("id"), fields)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, task, nil
	})
}

func deleteTask(d Deps) echo.HandlerFunc {
	return serveTask(d, "/api/tasks/:id", func(ctx context.Context, c echo.Context, owner string, m *requestMetrics) (int, any, error) {
		start := time.Now()
		ack, err := d.Authority.Delete(ctx, owner, c.Param("id"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, ack, nil
	})
}

type presenceRequest struct {
	Name string `json:"name"`
}

func postPresence(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			_, err = writeError(c, authError(err))
			return err
		}
		sessionID := c.Request().Header.Get(headerSessionID)
		if sessionID == "" {
			_, err = writeError(c, &domain.ValidationError{Field: headerSessionID, Reason: "header is required"})
			return err
		}
		var req presenceRequest
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
		if err := dec.Decode(&req); err != nil && err != io.EOF {
			_, err = writeError(c, &domain.ValidationError{Reason: "invalid body"})
			return err
		}
		if !d.Dispatcher.Announce(sessionID, domain.Presence{UserID: owner, Name: req.Name}) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "unknown session " + sessionID})
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func healthz(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "sessions": d.Dispatcher.Len()})
	}
}

func decodeFields(c echo.Context) (domain.TaskFields, error) {
	var f domain.TaskFields
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return f, &domain.ValidationError{Reason: "invalid body: " + err.Error()}
	}
	return f, nil
}

// sonicSerializer plugs sonic into echo's c.JSON and c.Bind.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	return sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
}
