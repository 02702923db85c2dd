package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vibetunnel/vtserver/internal/apperr"
	"github.com/vibetunnel/vtserver/internal/hq"
	"github.com/vibetunnel/vtserver/internal/session"
	"github.com/vibetunnel/vtserver/internal/wsbuffer"
)

// Handler groups the REST endpoints over a Manager, grounded on the
// teacher's BaseHandler pattern (src/handler/base.go): small methods
// that translate HTTP in/out around a domain object, with a single
// SendError envelope for failures.
type Handler struct {
	sessions  *session.Manager
	hub       *wsbuffer.Hub
	registry  *hq.Registry
	forwarder *hq.Forwarder
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SendError writes a typed apperr.Error (or generic error) to the
// response, mapping Kind to an HTTP status the way the teacher's
// SendError maps a status code it was handed directly.
func (h *Handler) SendError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(apperr.HTTPStatus(kind), ErrorResponse{Error: err.Error(), Code: string(kind)})
}

// Health reports basic liveness (spec §4.8).
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type createSessionRequest struct {
	Name       string            `json:"name"`
	Command    []string          `json:"command"`
	WorkingDir string            `json:"workingDir"`
	Env        map[string]string `json:"env"`
	Cols       *int              `json:"cols"`
	Rows       *int              `json:"rows"`
	RemoteID   string            `json:"remoteId"`
}

type sessionResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
	Exited     bool   `json:"exited"`
	ExitCode   int    `json:"exitCode,omitempty"`
	Source     string `json:"source,omitempty"`
	RemoteID   string `json:"remoteId,omitempty"`
	RemoteName string `json:"remoteName,omitempty"`
	RemoteURL  string `json:"remoteUrl,omitempty"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	cols, rows := s.Dimensions()
	r := sessionResponse{ID: s.ID, Name: s.Name, Cols: cols, Rows: rows, Exited: s.IsExited(), Source: "local"}
	if r.Exited {
		r.ExitCode = s.ExitCode()
	}
	return r
}

// CreateSession handles POST /api/sessions. With remoteId set, the
// request is forwarded unchanged to that remote rather than handled
// locally (spec §4.8/§4.10).
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.SendError(c, apperr.Wrap(apperr.InvalidArgument, "invalid request body", err))
		return
	}

	if req.RemoteID != "" {
		if h.registry == nil {
			h.SendError(c, apperr.New(apperr.InvalidArgument, "remoteId is only valid when running as an HQ"))
			return
		}
		rec, ok := h.registry.Get(req.RemoteID)
		if !ok {
			h.SendError(c, apperr.New(apperr.NotFound, fmt.Sprintf("remote %s not found", req.RemoteID)))
			return
		}
		req.RemoteID = ""
		body, _ := json.Marshal(req)
		h.proxyToRemote(c, rec, bytes.NewReader(body))
		return
	}

	s, err := h.sessions.Create(session.CreateOptions{
		Name:    req.Name,
		Command: req.Command,
		Cwd:     req.WorkingDir,
		Env:     req.Env,
		Cols:    req.Cols,
		Rows:    req.Rows,
	})
	if err != nil {
		h.SendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(s))
}

// ListSessions handles GET /api/sessions, aggregating local sessions
// with any HQ-registered remotes' sessions (spec §4.9).
func (h *Handler) ListSessions(c *gin.Context) {
	local := h.sessions.List()
	out := make([]sessionResponse, 0, len(local))
	for _, s := range local {
		out = append(out, toSessionResponse(s))
	}
	if h.forwarder != nil {
		remote := h.forwarder.ListRemoteSessions(context.Background())
		for _, rs := range remote {
			resp := sessionResponse{ID: rs.SessionID, Source: "remote", RemoteID: rs.RemoteID}
			if rec, ok := h.registry.Get(rs.RemoteID); ok {
				resp.RemoteName = rec.Name
				resp.RemoteURL = rec.URL
			}
			out = append(out, resp)
		}
	}
	c.JSON(http.StatusOK, out)
}

// sessionOrProxy resolves the :id path parameter to a local session. If
// it isn't tracked locally but a known remote owns it, the request is
// transparently proxied to that remote and (false, already-handled) is
// returned. Must be called before any body-consuming bind, since the
// proxy forwards the original request body untouched.
func (h *Handler) sessionOrProxy(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	s, err := h.sessions.Get(id)
	if err == nil {
		return s, true
	}
	if h.registry != nil {
		if rec, ok := h.registry.OwnerOf(id); ok {
			h.proxyToRemote(c, rec, c.Request.Body)
			return nil, false
		}
	}
	h.SendError(c, err)
	return nil, false
}

// proxyToRemote forwards the in-flight request to rec, same method and
// path, and streams the remote's response back verbatim.
func (h *Handler) proxyToRemote(c *gin.Context, rec *hq.RemoteRecord, body io.Reader) {
	if h.forwarder == nil {
		h.SendError(c, apperr.New(apperr.Internal, "no forwarder configured for HQ proxy"))
		return
	}
	target := strings.TrimRight(rec.URL, "/") + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, body)
	if err != nil {
		h.SendError(c, apperr.Wrap(apperr.Upstream, "build proxy request", err))
		return
	}
	for k, vv := range c.Request.Header {
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if rec.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rec.Token)
	}

	resp, err := h.forwarder.Do(req)
	if err != nil {
		h.SendError(c, apperr.Wrap(apperr.Upstream, fmt.Sprintf("proxy to remote %s", rec.Name), err))
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	io.Copy(c.Writer, resp.Body)
}

// GetSession handles GET /api/sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

// KillSession handles DELETE /api/sessions/:id.
func (h *Handler) KillSession(c *gin.Context) {
	if _, ok := h.sessionOrProxy(c); !ok {
		return
	}
	if err := h.sessions.Kill(c.Param("id")); err != nil {
		h.SendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type inputRequest struct {
	Data string `json:"data"`
}

// SendInput handles POST /api/sessions/:id/input.
func (h *Handler) SendInput(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.SendError(c, apperr.Wrap(apperr.InvalidArgument, "invalid request body", err))
		return
	}
	if err := s.SendInput([]byte(req.Data)); err != nil {
		h.SendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Resize handles POST /api/sessions/:id/resize.
func (h *Handler) Resize(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Cols <= 0 || req.Rows <= 0 {
		h.SendError(c, apperr.New(apperr.InvalidArgument, "cols and rows must be positive"))
		return
	}
	if err := s.Resize(req.Cols, req.Rows); err != nil {
		h.SendError(c, err)
		return
	}
	s.LockColumnResize()
	c.Status(http.StatusNoContent)
}

// GetText handles GET /api/sessions/:id/text: plain-text scrollback
// for clients that don't want the binary buffer protocol.
func (h *Handler) GetText(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	for _, line := range s.Buffer().ScrollbackLines() {
		fmt.Fprintln(c.Writer, line)
	}
}

// GetBuffer handles GET /api/sessions/:id/buffer: one binary snapshot.
func (h *Handler) GetBuffer(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", s.Buffer().Snapshot())
}

type activityResponse struct {
	SessionID    string    `json:"sessionId"`
	Active       bool      `json:"active"`
	LastActivity time.Time `json:"lastActivity"`
}

// activityIdleThreshold is how recently a session must have seen
// input or output to be reported "active" rather than merely "alive".
const activityIdleThreshold = 2 * time.Second

func activityFor(s *session.Session) activityResponse {
	last := s.LastActivity()
	return activityResponse{
		SessionID:    s.ID,
		Active:       !s.IsExited() && time.Since(last) < activityIdleThreshold,
		LastActivity: last,
	}
}

// GetActivity handles GET /api/sessions/:id/activity.
func (h *Handler) GetActivity(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, activityFor(s))
}

// ListActivity handles GET /api/sessions/activity: the activity status
// of every locally-tracked session.
func (h *Handler) ListActivity(c *gin.Context) {
	local := h.sessions.List()
	out := make([]activityResponse, 0, len(local))
	for _, s := range local {
		out = append(out, activityFor(s))
	}
	c.JSON(http.StatusOK, out)
}

// RecordActivity handles POST /api/sessions/:id/activity, a client
// heartbeat used for idle-timeout accounting (spec §4.7).
func (h *Handler) RecordActivity(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	s.TouchActivity()
	c.Status(http.StatusNoContent)
}

// Stream handles GET /api/sessions/:id/stream: an SSE feed of the
// output produced after the client subscribes. The recording is not
// replayed and a Last-Event-ID header is ignored.
func (h *Handler) Stream(c *gin.Context) {
	s, ok := h.sessionOrProxy(c)
	if !ok {
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, ok2 := c.Writer.(http.Flusher)
	if !ok2 {
		h.SendError(c, apperr.New(apperr.Internal, "streaming unsupported"))
		return
	}

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	ctx := c.Request.Context()
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			fmt.Fprintf(c.Writer, "event: exit\ndata: %d\n\n", s.ExitCode())
			flusher.Flush()
			return
		case data, chOk := <-sub.Ch:
			if !chOk {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", sseEscape(data))
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func sseEscape(data []byte) string {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b == '\n' {
			out = append(out, '\\', 'n')
			continue
		}
		out = append(out, b)
	}
	return string(out)
}

type registerRemoteRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// ListRemotes handles GET /api/remotes (HQ mode, spec §4.9).
func (h *Handler) ListRemotes(c *gin.Context) {
	if h.registry == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	remotes := h.registry.List()
	out := make([]gin.H, 0, len(remotes))
	for _, r := range remotes {
		out = append(out, gin.H{"id": r.ID, "name": r.Name, "url": r.URL, "registeredAt": r.RegisteredAt, "healthy": r.Healthy()})
	}
	c.JSON(http.StatusOK, out)
}

// RegisterRemote handles POST /api/remotes.
func (h *Handler) RegisterRemote(c *gin.Context) {
	if h.registry == nil {
		h.SendError(c, apperr.New(apperr.Forbidden, "not running in HQ mode"))
		return
	}
	var req registerRemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		h.SendError(c, apperr.New(apperr.InvalidArgument, "url is required"))
		return
	}
	rec := h.registry.Register(req.Name, req.URL, req.Token)
	c.JSON(http.StatusCreated, gin.H{"id": rec.ID})
}

// UnregisterRemote handles DELETE /api/remotes/:id.
func (h *Handler) UnregisterRemote(c *gin.Context) {
	if h.registry == nil || !h.registry.Unregister(c.Param("id")) {
		h.SendError(c, apperr.New(apperr.NotFound, "remote not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// TerminalPage serves the optional HTML convenience page (spec §4.10),
// grounded on the teacher's src/handler/terminal/frontend.go.
func (h *Handler) TerminalPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(terminalPageHTML))
}
