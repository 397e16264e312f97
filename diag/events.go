package diag

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jmgilman/go/sitecache"
)

// eventBuffer bounds how many events a slow stream client may lag behind.
// Events beyond it are dropped for that client.
const eventBuffer = 64

// EventPayload is the data line of a streamed event.
type EventPayload struct {
	sitecache.Event
	Error string `json:"error,omitempty"`
}

// streamEvents handles GET /events.
func (s *server) streamEvents(c echo.Context) error {
	ctx := c.Request().Context()

	events := make(chan sitecache.Event, eventBuffer)
	id := s.manager.AddEventListener(func(ev sitecache.Event) {
		select {
		case events <- ev:
		default:
			s.logger.Warn(ctx, "dropping event for slow stream client", "event", string(ev.Type))
		}
	})
	defer s.manager.RemoveEventListener(id)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	w.Flush()

	s.logger.Debug(ctx, "event stream opened", "remote", c.RealIP())
	defer s.logger.Debug(ctx, "event stream closed", "remote", c.RealIP())

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev := <-events:
			data, err := json.Marshal(EventPayload{Event: ev, Error: ev.ErrorMessage()})
			if err != nil {
				s.logger.Error(ctx, "failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
