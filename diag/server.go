// Package diag exposes a cache manager over HTTP for operators.
//
// Routes:
//
//	GET    /stats          counters and backend state
//	GET    /keys           stored hashes
//	GET    /entries/:key   one entry; ?params= takes a JSON object
//	DELETE /entries/:key   remove one entry
//	POST   /invalidate     {"tags": [...]}
//	DELETE /cache          remove everything
//	GET    /events         server-sent stream of cache events
//
// Keys usually contain slashes and must be path-escaped: /entries/%2Fnews.
package diag

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jmgilman/go/sitecache"
	"github.com/jmgilman/go/sitecache/logging"
	"github.com/jmgilman/go/sitecache/storage"
)

type server struct {
	manager *sitecache.Manager
	logger  *logging.Logger
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// KeysResponse lists stored hashes.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// EntryResponse describes a single entry.
type EntryResponse struct {
	Data     json.RawMessage  `json:"data"`
	Metadata storage.Metadata `json:"metadata"`
	Stale    bool             `json:"stale"`
}

// InvalidateRequest is the body of POST /invalidate.
type InvalidateRequest struct {
	Tags []string `json:"tags"`
}

// InvalidateResponse reports how many entries were removed.
type InvalidateResponse struct {
	Removed int `json:"removed"`
}

// NewServer builds the diagnostics router for m. A nil logger discards
// everything.
func NewServer(m *sitecache.Manager, logger *logging.Logger) *echo.Echo {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &server{manager: m, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	e.GET("/stats", s.getStats)
	e.GET("/keys", s.getKeys)
	e.GET("/entries/:key", s.getEntry)
	e.DELETE("/entries/:key", s.deleteEntry)
	e.POST("/invalidate", s.invalidate)
	e.DELETE("/cache", s.clear)
	e.GET("/events", s.streamEvents)

	return e
}

// getStats handles GET /stats.
func (s *server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Stats(c.Request().Context()))
}

// getKeys handles GET /keys.
func (s *server) getKeys(c echo.Context) error {
	keys := s.manager.Keys(c.Request().Context())
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, KeysResponse{Keys: keys})
}

// getEntry handles GET /entries/:key.
func (s *server) getEntry(c echo.Context) error {
	key, opts, err := entryKey(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	res, err := s.manager.Get(c.Request().Context(), key, opts...)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	}
	if res == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "entry not found"})
	}

	return c.JSON(http.StatusOK, EntryResponse{
		Data:     res.Data,
		Metadata: res.Metadata,
		Stale:    res.Stale,
	})
}

// deleteEntry handles DELETE /entries/:key.
func (s *server) deleteEntry(c echo.Context) error {
	key, opts, err := entryKey(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()
	s.manager.Remove(ctx, key, opts...)
	s.logger.Info(ctx, "entry removed via diagnostics", "key", key)
	return c.NoContent(http.StatusNoContent)
}

// invalidate handles POST /invalidate.
func (s *server) invalidate(c echo.Context) error {
	var req InvalidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Tags) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "at least one tag is required"})
	}

	ctx := c.Request().Context()
	removed := s.manager.InvalidateByTags(ctx, req.Tags...)
	s.logger.Info(ctx, "tags invalidated via diagnostics", "tags", req.Tags, "removed", removed)
	return c.JSON(http.StatusOK, InvalidateResponse{Removed: removed})
}

// clear handles DELETE /cache.
func (s *server) clear(c echo.Context) error {
	ctx := c.Request().Context()
	s.manager.Clear(ctx)
	s.logger.Info(ctx, "cache cleared via diagnostics")
	return c.NoContent(http.StatusNoContent)
}

// entryKey extracts the unescaped key and optional params of an entry
// route.
func entryKey(c echo.Context) (string, []sitecache.CallOption, error) {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil {
		return "", nil, err
	}

	raw := c.QueryParam("params")
	if raw == "" {
		return key, nil, nil
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return "", nil, err
	}
	return key, []sitecache.CallOption{sitecache.Params(params)}, nil
}
