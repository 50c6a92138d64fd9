// Package chat is the skincare assistant conversation kept on the device.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/kv"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
)

// HistoryKey is the store key of the conversation
const HistoryKey = "chat_history"

const (
	welcomeText  = "Hello! I'm your AI skincare assistant. How can I help you today?"
	fallbackText = "I apologize, but I'm having trouble responding right now. Please try again in a moment."
	systemPrompt = "You are a helpful AI skincare assistant. You provide personalized skincare advice, answer questions about skincare routines, ingredients, and skin concerns. Be friendly, knowledgeable, and always recommend consulting with a dermatologist for serious skin issues."
)

// ErrEmptyMessage is returned by Send for blank input
var ErrEmptyMessage = errors.New("message is empty")

var quickPrompts = []string{
	"What's the best morning skincare routine?",
	"How do I deal with dry skin?",
	"What ingredients should I avoid?",
	"How often should I exfoliate?",
	"What's causing my breakouts?",
}

// UserContext personalizes the assistant's answers
type UserContext struct {
	SkinScore   *models.SkinScore  `json:"skinScore,omitempty"`
	QuizAnswers models.QuizAnswers `json:"quizAnswers,omitempty"`
}

func (u *UserContext) empty() bool {
	return u == nil || (u.SkinScore == nil && len(u.QuizAnswers) == 0)
}

type Service struct {
	store     *kv.Store
	completer Completer
	metrics   *metrics.Registry
	now       func() time.Time
	log       zerolog.Logger

	// guards history read-modify-write
	mu sync.Mutex
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store *kv.Store, completer Completer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		completer: completer,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) welcome() models.Message {
	return models.Message{
		ID:        "1",
		Text:      welcomeText,
		Sender:    models.SenderAssistant,
		Timestamp: s.now().UnixMilli(),
	}
}

// History returns the stored conversation, or the welcome message when
// there is none
func (s *Service) History(ctx context.Context) []models.Message {
	messages, ok := kv.Get[[]models.Message](ctx, s.store, HistoryKey)
	if !ok || len(messages) == 0 {
		return []models.Message{s.welcome()}
	}
	return messages
}

// Send appends text to the conversation and asks the completer for a reply.
// A failed completion yields an apology reply rather than an error. The
// history lock is not held while the completer runs.
func (s *Service) Send(ctx context.Context, text string, user *UserContext) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	question := models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    models.SenderUser,
		Timestamp: s.now().UnixMilli(),
	}
	s.mu.Lock()
	history := append(s.History(ctx), question)
	s.save(ctx, history)
	s.mu.Unlock()

	result := "ok"
	answer, err := s.completer.Complete(ctx, buildSystemPrompt(user), history)
	if err != nil || answer == "" {
		s.log.Error().Err(err).Msg("failed to get assistant response")
		answer = fallbackText
		result = "failed"
	}
	s.metrics.Inc(ctx, metrics.ChatMessages, map[string]string{"result": result}, 1)

	reply := models.Message{
		ID:        uuid.NewString(),
		Text:      answer,
		Sender:    models.SenderAssistant,
		Timestamp: s.now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.History(ctx)
	if !slices.ContainsFunc(current, func(m models.Message) bool { return m.ID == question.ID }) {
		s.log.Debug().Msg("conversation cleared while waiting for reply")
		return reply, nil
	}
	s.save(ctx, append(current, reply))
	return reply, nil
}

func (s *Service) save(ctx context.Context, history []models.Message) {
	if err := s.store.Set(ctx, HistoryKey, history); err != nil {
		s.log.Error().Err(err).Msg("failed to save chat history")
	}
}

// Clear forgets the conversation and returns the fresh history
func (s *Service) Clear(ctx context.Context) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Remove(ctx, HistoryKey); err != nil {
		return nil, fmt.Errorf("clear chat history: %w", err)
	}
	return []models.Message{s.welcome()}, nil
}

// QuickPrompts are suggested first questions
func (s *Service) QuickPrompts() []string {
	return append([]string(nil), quickPrompts...)
}

func buildSystemPrompt(user *UserContext) string {
	if user.empty() {
		return systemPrompt
	}
	data, err := json.Marshal(user)
	if err != nil {
		return systemPrompt
	}
	return systemPrompt + "\n\nUser context: " + string(data)
}
