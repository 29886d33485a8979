package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskpulse/domain"
)

// SessionFrame is the name of the first frame on every stream. Its data
// carries the session id clients echo back in X-Session-ID.
const SessionFrame = "session"

type sessionInfo struct {
	SessionID string `json:"sessionId"`
}

func streamEvents(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := d.Auth.UserIDFromAuthHeader(authHeader(c))
		if err != nil {
			_, err = writeError(c, authError(err))
			return err
		}

		res := c.Response()
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		sessionID := domain.NewID()
		sess := d.Dispatcher.Register(sessionID, owner)
		defer d.Dispatcher.Unregister(sessionID)
		logger := log.WithFields(log.Fields{"session": sessionID, "owner": owner})
		logger.Info("stream opened")
		defer logger.Info("stream closed")

		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)

		if err := writeFrame(res, "", SessionFrame, sessionInfo{SessionID: sessionID}); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		for {
			waitCtx, cancel := context.WithTimeout(ctx, d.Heartbeat)
			ev, err := sess.Next(waitCtx)
			cancel()
			switch {
			case err == nil:
				if err := writeFrame(res, fmt.Sprint(ev.Seq), ev.Type, ev.Payload()); err != nil {
					return nil
				}
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				// Comment frame keeps proxies from closing an idle stream.
				if _, err := io.WriteString(res, ":keepalive\n\n"); err != nil {
					return nil
				}
			default:
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, id, event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	var frame []byte
	if id != "" {
		frame = append(frame, "id: "+id+"\n"...)
	}
	frame = append(frame, "event: "+event+"\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	_, err = w.Write(frame)
	return err
}
