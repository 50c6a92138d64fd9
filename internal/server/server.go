package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/chat"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/skincare"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI shell runs on the same device
	},
}

// Sessions signs the device user in and out
type Sessions interface {
	SignIn(ctx context.Context, token string) (*auth.Session, error)
	SignOut(ctx context.Context) error
}

type client struct {
	conn    *websocket.Conn
	limiter *rate.Limiter
	mu      sync.Mutex // one writer at a time
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type Server struct {
	skincare *skincare.Service
	chat     *chat.Service
	sessions Sessions
	metrics  http.Handler
	objects  http.Handler
	clients  sync.Map
	limit    rate.Limit
	burst    int
	log      zerolog.Logger
}

type Option func(*Server)

func WithChat(c *chat.Service) Option {
	return func(s *Server) { s.chat = c }
}

func WithSessions(sessions Sessions) Option {
	return func(s *Server) { s.sessions = sessions }
}

// WithMetrics serves h on /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithObjects serves stored scan images under /objects/
func WithObjects(h http.Handler) Option {
	return func(s *Server) { s.objects = h }
}

// WithRateLimit bounds messages per second on each connection
func WithRateLimit(perSecond, burst int) Option {
	return func(s *Server) {
		s.limit = rate.Limit(perSecond)
		s.burst = burst
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func New(svc *skincare.Service, opts ...Option) *Server {
	s := &Server{
		skincare: svc,
		limit:    rate.Limit(20),
		burst:    40,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	svc.Subscribe(s.broadcastScan)
	return s
}

// Handler returns the HTTP routes of the bridge
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if s.objects != nil {
		mux.Handle("/objects/", http.StripPrefix("/objects", s.objects))
	}
	return mux
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("port", port).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.clients.Range(func(_, value any) bool {
		value.(*client).conn.Close()
		return true
	})
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &client{conn: conn, limiter: rate.NewLimiter(s.limit, s.burst)}
	clientID := uuid.New().String()
	s.clients.Store(clientID, c)
	defer s.clients.Delete(clientID)

	log := s.log.With().Str("client_id", clientID).Logger()
	log.Debug().Msg("client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("error reading message")
			}
			break
		}
		if !c.limiter.Allow() {
			s.sendError(c, "Rate limit exceeded")
			continue
		}

		var msg envelope
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			s.sendError(c, "Invalid message format")
			continue
		}
		s.handleMessage(r.Context(), c, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *client, msg envelope) {
	switch msg.Type {
	case "get_scan_results":
		s.handleGetScanResults(c)
	case "upload_scan":
		s.handleUploadScan(ctx, c, msg.Data)
	case "clear_scan":
		s.handleClearScan(ctx, c, msg.Data)
	case "reset_scans":
		s.handleResetScans(ctx, c)
	case "sync":
		s.handleSync(ctx, c)
	case "get_skincare":
		s.handleGetSkincare(ctx, c)
	case "save_quiz_answer":
		s.handleSaveQuizAnswer(ctx, c, msg.Data)
	case "toggle_routine_step":
		s.handleToggleRoutineStep(ctx, c, msg.Data)
	case "record_analysis":
		s.handleRecordAnalysis(ctx, c, msg.Data)
	case "reset_progress":
		s.handleResetProgress(ctx, c)
	case "get_chat_history":
		s.handleGetChatHistory(ctx, c)
	case "send_chat":
		s.handleSendChat(ctx, c, msg.Data)
	case "clear_chat":
		s.handleClearChat(ctx, c)
	case "sign_in":
		s.handleSignIn(ctx, c, msg.Data)
	case "sign_out":
		s.handleSignOut(ctx, c)
	default:
		s.sendError(c, "Unknown message type")
	}
}

type scanResultsPayload struct {
	models.ScanResults
	Uploading map[models.Slot]bool `json:"uploading"`
}

func (s *Server) scanResults() scanResultsPayload {
	uploading := make(map[models.Slot]bool, 3)
	for _, slot := range models.Slots() {
		uploading[slot] = s.skincare.IsUploading(slot)
	}
	return scanResultsPayload{ScanResults: s.skincare.ScanResults(), Uploading: uploading}
}

func (s *Server) handleGetScanResults(c *client) {
	s.sendMessage(c, "scan_results", s.scanResults())
}

func (s *Server) handleUploadScan(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		URI          string `json:"uri"`
		Slot         string `json:"slot"`
		ShouldMirror bool   `json:"shouldMirror"`
	}
	slot, ok := s.decodeSlot(c, data, &req, func() string { return req.Slot })
	if !ok {
		return
	}
	if req.URI == "" {
		s.sendError(c, "Missing image uri")
		return
	}

	if err := s.skincare.UploadScanImage(ctx, req.URI, slot, req.ShouldMirror); err != nil {
		s.log.Error().Err(err).Str("slot", string(slot)).Msg("failed to save scan image")
		s.sendError(c, "Failed to save image")
		return
	}
	s.sendMessage(c, "upload_accepted", map[string]any{"slot": slot, "uploading": s.skincare.IsUploading(slot)})
}

func (s *Server) handleClearScan(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		Slot string `json:"slot"`
	}
	slot, ok := s.decodeSlot(c, data, &req, func() string { return req.Slot })
	if !ok {
		return
	}
	if err := s.skincare.ClearScan(ctx, slot); err != nil {
		s.log.Error().Err(err).Str("slot", string(slot)).Msg("failed to clear scan image")
		s.sendError(c, "Failed to clear image")
		return
	}
	s.sendMessage(c, "scan_results", s.scanResults())
}

func (s *Server) handleResetScans(ctx context.Context, c *client) {
	if err := s.skincare.ResetScans(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to reset scans")
		s.sendError(c, "Failed to reset scans")
		return
	}
	s.sendMessage(c, "scan_results", s.scanResults())
}

func (s *Server) handleSync(ctx context.Context, c *client) {
	updated, err := s.skincare.Sync(ctx)
	if err != nil {
		s.sendError(c, "Failed to sync images")
		return
	}
	if updated == nil {
		updated = []models.Slot{}
	}
	s.sendMessage(c, "sync_result", map[string]any{"updated": updated})
}

func (s *Server) handleGetSkincare(ctx context.Context, c *client) {
	s.sendMessage(c, "skincare", map[string]any{
		"quizAnswers":  s.skincare.QuizAnswers(ctx),
		"routineSteps": s.skincare.RoutineSteps(ctx),
		"skinScore":    s.skincare.SkinScore(ctx),
	})
}

func (s *Server) handleSaveQuizAnswer(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		QuestionID string `json:"questionId"`
		AnswerID   string `json:"answerId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.QuestionID == "" {
		s.sendError(c, "Invalid quiz answer")
		return
	}
	if err := s.skincare.SaveQuizAnswer(ctx, req.QuestionID, req.AnswerID); err != nil {
		s.log.Error().Err(err).Msg("failed to save quiz answer")
		s.sendError(c, "Failed to save answer")
		return
	}
	s.sendMessage(c, "quiz_answers", s.skincare.QuizAnswers(ctx))
}

func (s *Server) handleToggleRoutineStep(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		StepID    string `json:"stepId"`
		Completed bool   `json:"completed"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, "Invalid routine step")
		return
	}
	steps, err := s.skincare.ToggleRoutineStep(ctx, req.StepID, req.Completed)
	if errors.Is(err, skincare.ErrUnknownStep) {
		s.sendError(c, "Unknown routine step")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("failed to save routine")
		s.sendError(c, "Failed to save routine")
		return
	}
	s.sendMessage(c, "routine_steps", steps)
}

func (s *Server) handleRecordAnalysis(ctx context.Context, c *client, data json.RawMessage) {
	var score models.SkinScore
	if err := json.Unmarshal(data, &score); err != nil {
		s.sendError(c, "Invalid analysis")
		return
	}
	if err := s.skincare.RecordAnalysis(ctx, score); err != nil {
		s.log.Error().Err(err).Msg("failed to record analysis")
		s.sendError(c, "Failed to save analysis")
		return
	}
	s.sendMessage(c, "skin_score", score)
}

func (s *Server) handleResetProgress(ctx context.Context, c *client) {
	if err := s.skincare.ResetProgress(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to reset progress")
		s.sendError(c, "Failed to reset progress")
		return
	}
	s.handleGetSkincare(ctx, c)
}

func (s *Server) handleGetChatHistory(ctx context.Context, c *client) {
	if s.chat == nil {
		s.sendError(c, "Chat is not configured")
		return
	}
	s.sendMessage(c, "chat_history", map[string]any{
		"messages":     s.chat.History(ctx),
		"quickPrompts": s.chat.QuickPrompts(),
	})
}

func (s *Server) handleSendChat(ctx context.Context, c *client, data json.RawMessage) {
	if s.chat == nil {
		s.sendError(c, "Chat is not configured")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, "Invalid chat message")
		return
	}

	user := &chat.UserContext{
		SkinScore:   s.skincare.SkinScore(ctx),
		QuizAnswers: s.skincare.QuizAnswers(ctx),
	}
	reply, err := s.chat.Send(ctx, req.Text, user)
	if errors.Is(err, chat.ErrEmptyMessage) {
		s.sendError(c, "Message is empty")
		return
	}
	if err != nil {
		s.sendError(c, "Failed to send message")
		return
	}
	s.sendMessage(c, "chat_reply", reply)
}

func (s *Server) handleClearChat(ctx context.Context, c *client) {
	if s.chat == nil {
		s.sendError(c, "Chat is not configured")
		return
	}
	history, err := s.chat.Clear(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to clear chat")
		s.sendError(c, "Failed to clear chat")
		return
	}
	s.sendMessage(c, "chat_history", map[string]any{
		"messages":     history,
		"quickPrompts": s.chat.QuickPrompts(),
	})
}

func (s *Server) handleSignIn(ctx context.Context, c *client, data json.RawMessage) {
	if s.sessions == nil {
		s.sendError(c, "Sign in is not available")
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, "Invalid sign in request")
		return
	}
	session, err := s.sessions.SignIn(ctx, req.Token)
	if err != nil {
		s.log.Warn().Err(err).Msg("sign in rejected")
		s.sendError(c, "Invalid token")
		return
	}
	s.sendMessage(c, "signed_in", map[string]any{"userId": session.UserID})

	if _, err := s.skincare.Sync(ctx); err != nil {
		s.log.Warn().Err(err).Msg("sync after sign in failed")
	}
}

func (s *Server) handleSignOut(ctx context.Context, c *client) {
	if s.sessions == nil {
		s.sendError(c, "Sign in is not available")
		return
	}
	if err := s.sessions.SignOut(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to sign out")
		s.sendError(c, "Failed to sign out")
		return
	}
	s.sendMessage(c, "signed_out", nil)
}

// decodeSlot unmarshals data into req and validates the slot it names
func (s *Server) decodeSlot(c *client, data json.RawMessage, req any, slotName func() string) (models.Slot, bool) {
	if err := json.Unmarshal(data, req); err != nil {
		s.sendError(c, "Invalid request data")
		return "", false
	}
	slot, err := models.ParseSlot(slotName())
	if err != nil {
		s.sendError(c, "Invalid slot")
		return "", false
	}
	return slot, true
}

func (s *Server) broadcastScan(slot models.Slot, img *models.ScanImage) {
	msg := map[string]any{
		"type": "scan_updated",
		"data": map[string]any{
			"slot":      slot,
			"image":     img,
			"uploading": s.skincare.IsUploading(slot),
		},
	}
	s.clients.Range(func(_, value any) bool {
		if err := value.(*client).writeJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("failed to push scan update")
		}
		return true
	})
}

func (s *Server) sendMessage(c *client, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if err := c.writeJSON(msg); err != nil {
		s.log.Warn().Err(err).Str("type", messageType).Msg("error sending message")
	}
}

func (s *Server) sendError(c *client, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if err := c.writeJSON(msg); err != nil {
		s.log.Warn().Err(err).Msg("error sending error message")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
