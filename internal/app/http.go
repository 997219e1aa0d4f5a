package app

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itinera/api/internal/auth"
	"itinera/api/internal/metrics"
	"itinera/api/internal/planner"
	"itinera/api/internal/presence"
	"itinera/api/internal/util"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Pinger reports whether an optional dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sockets upgrades a request to a presence session.
type Sockets interface {
	ServeWS(w http.ResponseWriter, r *http.Request, id presence.Identity)
}

type ServerOptions struct {
	Verifier   Verifier
	Sockets    Sockets
	// Redis, when set, adds a redis entry to the readiness checks.
	Redis      Pinger
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	CORSOrigin string
}

type HTTPServer struct {
	service    *Service
	verifier   Verifier
	sockets    Sockets
	redis      Pinger
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	corsOrigin string
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return &HTTPServer{
		service:    service,
		verifier:   opts.Verifier,
		sockets:    opts.Sockets,
		redis:      opts.Redis,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With().Str("component", "http").Logger(),
		corsOrigin: opts.CORSOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		w.Header().Del("Content-Type")
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/ws" {
		s.handleWebsocket(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "templates":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleListTemplates(w, r)
			return
		}
	case "template":
		s.handleTemplates(w, r, parts[2:])
		return
	case "board":
		s.handleBoards(w, r, parts[2:])
		return
	case "card":
		s.handleCards(w, r, parts[2:])
		return
	case "search":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleSearch(w, r)
			return
		}
	case "notifications":
		s.handleNotifications(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if s.redis != nil {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.redis.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleWebsocket authenticates with the Authorization header or, for
// browsers that cannot set headers on upgrades, a token query parameter.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.sockets == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Realtime channel not configured", nil)
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	caller, err := s.verify(r, token)
	if err != nil || caller.Anonymous() {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	s.sockets.ServeWS(w, r, presence.Identity{
		UserID:      caller.UserID,
		DisplayName: caller.DisplayName,
		AvatarURL:   caller.AvatarURL,
	})
}

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	templates, err := s.service.ListTemplates(r.Context(), caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		items = append(items, templateJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": items})
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, parts []string) {
	// POST /api/template
	if len(parts) == 0 && r.Method == http.MethodPost {
		caller, ok := s.requireCaller(w, r)
		if !ok {
			return
		}
		var body struct {
			Title   string `json:"title"`
			Privacy string `json:"privacy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tpl, board, err := s.service.CreateTemplate(r.Context(), caller, body.Title, body.Privacy)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusCreated, "Trip created", map[string]any{
			"templateUuid": tpl.ID,
			"boardUuid":    board.ID,
			"dayNumber":    board.DayNumber,
		})
		return
	}

	// POST /api/template/copy/{templateUuid}
	if len(parts) == 2 && parts[0] == "copy" && r.Method == http.MethodPost {
		caller, ok := s.requireCaller(w, r)
		if !ok {
			return
		}
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tpl, err := s.service.CopyTemplate(r.Context(), caller, parts[1], body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusCreated, "Trip copied", map[string]any{"templateUuid": tpl.ID})
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	templateID := parts[0]

	if len(parts) == 1 {
		s.handleTemplate(w, r, templateID)
		return
	}

	switch parts[1] {
	case "collaborators":
		s.handleCollaborators(w, r, templateID, parts[2:])
		return
	case "export":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleExport(w, r, templateID)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	if r.Method == http.MethodGet {
		caller, ok := s.optionalCaller(w, r)
		if !ok {
			return
		}
		view, err := s.service.GetTemplate(r.Context(), caller, templateID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, templateTreeJSON(view))
		return
	}

	if r.Method == http.MethodPut {
		caller, ok := s.requireCaller(w, r)
		if !ok {
			return
		}
		var body struct {
			Title   *string `json:"title"`
			Privacy *string `json:"privacy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tpl, err := s.service.UpdateTemplate(r.Context(), caller, templateID, UpdateTemplateInput{Title: body.Title, Privacy: body.Privacy})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Trip updated", map[string]any{"template": templateJSON(tpl)})
		return
	}

	if r.Method == http.MethodDelete {
		caller, ok := s.requireCaller(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteTemplate(r.Context(), caller, templateID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Trip deleted", nil)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, templateID string, parts []string) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	if len(parts) == 0 && r.Method == http.MethodGet {
		collaborators, err := s.service.ListCollaborators(r.Context(), caller, templateID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(collaborators))
		for _, c := range collaborators {
			items = append(items, collaboratorJSON(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"collaborators": items})
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AddCollaborator(r.Context(), caller, templateID, body.UserID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Collaborator added", nil)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.RemoveCollaborator(r.Context(), caller, templateID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Collaborator removed", nil)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, templateID string) {
	caller, ok := s.optionalCaller(w, r)
	if !ok {
		return
	}
	result, err := s.service.Export(r.Context(), caller, templateID, r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, parts []string) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			TemplateID string `json:"templateUuid"`
			DayNumber  *int   `json:"dayNumber"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		board, err := s.service.InsertBoard(r.Context(), caller, body.TemplateID, body.DayNumber)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusCreated, "Day added", map[string]any{"boardUuid": board.ID, "dayNumber": board.DayNumber})

	case len(parts) == 1 && parts[0] == "move" && r.Method == http.MethodPost:
		var body struct {
			BoardID   string `json:"boardUuid"`
			DayNumber int    `json:"dayNumber"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		board, err := s.service.MoveBoard(r.Context(), caller, body.BoardID, body.DayNumber)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Day moved", map[string]any{"boardUuid": board.ID, "dayNumber": board.DayNumber})

	case len(parts) == 2 && parts[0] == "copy" && r.Method == http.MethodPost:
		var body struct {
			TargetTemplateID string `json:"targetTemplateUuid"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		board, err := s.service.CopyBoard(r.Context(), caller, parts[1], body.TargetTemplateID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusCreated, "Day copied", map[string]any{"boardUuid": board.ID, "dayNumber": board.DayNumber})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteBoard(r.Context(), caller, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Day deleted", nil)

	case len(parts) == 2 && parts[1] == "sort" && r.Method == http.MethodPost:
		cards, err := s.service.SortBoard(r.Context(), caller, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(cards))
		for _, c := range cards {
			items = append(items, cardJSON(c))
		}
		writeAck(w, http.StatusOK, "Day sorted", map[string]any{"cards": items})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCards(w http.ResponseWriter, r *http.Request, parts []string) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			BoardID    string        `json:"boardUuid"`
			OrderIndex *int          `json:"orderIndex"`
			Content    string        `json:"content"`
			StartTime  string        `json:"startTime"`
			EndTime    string        `json:"endTime"`
			Locked     bool          `json:"locked"`
			Location   *locationBody `json:"location"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.InsertCard(r.Context(), caller, body.BoardID, CardInput{
			Content:    body.Content,
			StartTime:  strings.TrimSpace(body.StartTime),
			EndTime:    strings.TrimSpace(body.EndTime),
			Locked:     body.Locked,
			OrderIndex: body.OrderIndex,
			Location:   body.Location.toLocation(),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusCreated, "Card added", map[string]any{"cardUuid": card.ID, "orderIndex": card.OrderIndex})

	case len(parts) == 1 && parts[0] == "move" && r.Method == http.MethodPost:
		var body struct {
			CardID     string `json:"cardUuid"`
			BoardID    string `json:"boardUuid"`
			OrderIndex int    `json:"orderIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.MoveCard(r.Context(), caller, body.CardID, body.BoardID, body.OrderIndex)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Card moved", map[string]any{"cardUuid": card.ID, "boardUuid": card.BoardID, "orderIndex": card.OrderIndex})

	case len(parts) == 2 && parts[0] == "copy" && r.Method == http.MethodPost:
		var body struct {
			BoardID string `json:"boardUuid"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.CopyCard(r.Context(), caller, parts[1], body.BoardID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusCreated, "Card copied", map[string]any{"cardUuid": card.ID, "orderIndex": card.OrderIndex})

	case len(parts) == 1 && r.Method == http.MethodPut:
		patch, err := decodeCardPatch(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.UpdateCard(r.Context(), caller, parts[0], patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Card updated", map[string]any{"card": cardJSON(card)})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteCard(r.Context(), caller, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Card deleted", nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// decodeCardPatch keeps absent fields nil. A null location removes it.
func decodeCardPatch(r *http.Request) (planner.CardPatch, error) {
	var body struct {
		Content    *string         `json:"content"`
		StartTime  *string         `json:"startTime"`
		EndTime    *string         `json:"endTime"`
		OrderIndex *int            `json:"orderIndex"`
		Locked     *bool           `json:"locked"`
		Location   json.RawMessage `json:"location"`
	}
	if err := decodeBody(r, &body); err != nil {
		return planner.CardPatch{}, err
	}

	patch := planner.CardPatch{
		Content:    body.Content,
		StartTime:  trimmed(body.StartTime),
		EndTime:    trimmed(body.EndTime),
		OrderIndex: body.OrderIndex,
		Locked:     body.Locked,
	}
	if len(body.Location) > 0 {
		patch.Location.Set = true
		if !bytes.Equal(bytes.TrimSpace(body.Location), []byte("null")) {
			var loc locationBody
			if err := json.Unmarshal(body.Location, &loc); err != nil {
				return planner.CardPatch{}, fmt.Errorf("invalid location")
			}
			patch.Location.Value = loc.toLocation()
		}
	}
	return patch, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), r.URL.Query().Get("q"), limit))
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, parts []string) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	if len(parts) == 0 && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		notifications, err := s.service.Notifications(r.Context(), caller, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(notifications))
		for _, n := range notifications {
			items = append(items, notificationJSON(n))
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
		return
	}

	if len(parts) == 2 && parts[1] == "read" && r.Method == http.MethodPost {
		if err := s.service.MarkNotificationRead(r.Context(), caller, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeAck(w, http.StatusOK, "Notification read", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) verify(r *http.Request, token string) (Caller, error) {
	if token == "" {
		return Caller{}, nil
	}
	if s.verifier == nil {
		return Caller{}, errUnauthorized
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		return Caller{}, err
	}
	caller := Caller{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
		SocketID:    strings.TrimSpace(r.Header.Get("X-Socket-ID")),
	}
	s.service.RememberCaller(r.Context(), caller)
	return caller, nil
}

// optionalCaller allows anonymous callers but rejects bad tokens.
func (s *HTTPServer) optionalCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	caller, err := s.verify(r, bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Caller{}, false
	}
	return caller, true
}

func (s *HTTPServer) requireCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	caller, ok := s.optionalCaller(w, r)
	if !ok {
		return Caller{}, false
	}
	if caller.Anonymous() {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Caller{}, false
	}
	return caller, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.metrics.ObserveRequest(routeLabel(r.URL.Path), r.Method, writer.status, elapsed)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets the websocket upgrader reach the underlying http.Hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel replaces ids in a path so metrics stay low-cardinality.
func routeLabel(path string) string {
	parts := splitPath(path)
	for i, part := range parts {
		if util.ValidID(part) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Socket-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeAck answers a mutation with success, message and any extra fields.
func writeAck(w http.ResponseWriter, status int, message string, fields map[string]any) {
	response := map[string]any{"success": true, "message": message}
	for key, value := range fields {
		response[key] = value
	}
	writeJSON(w, status, response)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
