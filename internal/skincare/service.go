// Package skincare is the application state behind the onboarding and home
// screens: scan images, quiz answers, the daily routine and the skin score.
package skincare

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/kv"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/scancache"
	"github.com/franckalain/glowscan/internal/upload"
)

const (
	QuizAnswersKey  = "quiz_answers"
	RoutineStepsKey = "routine_steps"
	SkinScoreKey    = "skin_score"
)

// ErrUnknownStep is returned when toggling a routine step that does not exist
var ErrUnknownStep = errors.New("unknown routine step")

// AnalysisRecorder stores analysis results remotely
type AnalysisRecorder interface {
	RecordAnalysis(ctx context.Context, userID string, analysis any) error
}

// Listener is told when the displayed image of a slot changes. img is nil
// when the slot was cleared.
type Listener func(slot models.Slot, img *models.ScanImage)

// Service wires the scan cache, reconciler and upload pipeline together
// and keeps the displayed scan state.
type Service struct {
	cache      *scancache.Cache
	reconciler *scancache.Reconciler
	pipeline   *upload.Pipeline
	sessions   upload.Sessions
	analysis   AnalysisRecorder
	store      *kv.Store
	metrics    *metrics.Registry
	log        zerolog.Logger

	mu        sync.RWMutex
	scans     models.ScanResults
	listeners []Listener
}

// Deps groups the collaborators of a Service
type Deps struct {
	Cache      *scancache.Cache
	Reconciler *scancache.Reconciler
	Pipeline   *upload.Pipeline
	Sessions   upload.Sessions
	Analysis   AnalysisRecorder
	Store      *kv.Store
	Metrics    *metrics.Registry
	Log        zerolog.Logger
}

func NewService(d Deps) *Service {
	s := &Service{
		cache:      d.Cache,
		reconciler: d.Reconciler,
		pipeline:   d.Pipeline,
		sessions:   d.Sessions,
		analysis:   d.Analysis,
		store:      d.Store,
		metrics:    d.Metrics,
		log:        d.Log,
	}
	d.Pipeline.Subscribe(s.show)
	return s
}

// Subscribe registers a listener for scan image changes
func (s *Service) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) show(slot models.Slot, img *models.ScanImage) {
	s.mu.Lock()
	s.scans.Set(slot, img)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(slot, img)
	}
}

// Load purges an expired session, shows the cached images and pulls newer
// ones from the backend when signed in.
func (s *Service) Load(ctx context.Context) error {
	if err := s.cache.CleanExpiredSessions(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to clean expired session")
	}

	results := s.cache.AllScanResults(ctx)
	s.mu.Lock()
	s.scans = results
	s.mu.Unlock()
	s.log.Debug().Int("slots", len(results.Populated())).Msg("loaded cached scan results")

	if _, err := s.Sync(ctx); err != nil {
		s.log.Warn().Err(err).Msg("sync on load failed, showing cached images")
	}
	return nil
}

// Sync pulls remote images for the signed-in user. It is a no-op when
// nobody is signed in.
func (s *Service) Sync(ctx context.Context) ([]models.Slot, error) {
	session, err := s.sessions.Current(ctx)
	if errors.Is(err, auth.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.reconciler.Sync(ctx, session.UserID)
	if err != nil {
		s.metrics.Inc(ctx, metrics.ScanSyncs, map[string]string{"result": "failed"}, 1)
		return nil, err
	}
	s.metrics.Inc(ctx, metrics.ScanSyncs, map[string]string{"result": "ok"}, 1)
	s.metrics.Inc(ctx, metrics.ScanSyncSlots, nil, int64(len(updated)))

	for _, slot := range updated {
		s.show(slot, s.cache.Image(ctx, slot))
	}
	return updated, nil
}

// ScanResults returns the displayed images
func (s *Service) ScanResults() models.ScanResults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session := models.ScanSession{Front: s.scans.Front, Right: s.scans.Right, Left: s.scans.Left}
	return session.Results()
}

// UploadScanImage shows the image right away and uploads it in the
// background.
func (s *Service) UploadScanImage(ctx context.Context, uri string, slot models.Slot, shouldMirror bool) error {
	return s.pipeline.UploadScanImage(ctx, uri, slot, shouldMirror)
}

func (s *Service) IsUploading(slot models.Slot) bool {
	return s.pipeline.IsUploading(slot)
}

// ClearScan removes one captured image
func (s *Service) ClearScan(ctx context.Context, slot models.Slot) error {
	if err := s.cache.ClearImage(ctx, slot); err != nil {
		return err
	}
	s.show(slot, nil)
	return nil
}

// ResetScans discards the whole scan session
func (s *Service) ResetScans(ctx context.Context) error {
	if err := s.cache.ClearAllImages(ctx); err != nil {
		return err
	}
	for _, slot := range models.Slots() {
		s.show(slot, nil)
	}
	return nil
}

// QuizAnswers returns the saved answers, empty when there are none
func (s *Service) QuizAnswers(ctx context.Context) models.QuizAnswers {
	answers, ok := kv.Get[models.QuizAnswers](ctx, s.store, QuizAnswersKey)
	if !ok || answers == nil {
		return models.QuizAnswers{}
	}
	return answers
}

func (s *Service) SaveQuizAnswer(ctx context.Context, questionID, answerID string) error {
	answers := s.QuizAnswers(ctx)
	answers[questionID] = answerID
	if err := s.store.Set(ctx, QuizAnswersKey, answers); err != nil {
		return fmt.Errorf("save quiz answer: %w", err)
	}
	return nil
}

// RoutineSteps returns the saved routine, or the default one
func (s *Service) RoutineSteps(ctx context.Context) []models.RoutineStep {
	steps, ok := kv.Get[[]models.RoutineStep](ctx, s.store, RoutineStepsKey)
	if !ok || len(steps) == 0 {
		return models.DefaultRoutineSteps()
	}
	return steps
}

func (s *Service) ToggleRoutineStep(ctx context.Context, stepID string, completed bool) ([]models.RoutineStep, error) {
	steps := s.RoutineSteps(ctx)
	found := false
	for i := range steps {
		if steps[i].ID == stepID {
			steps[i].Completed = completed
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	if err := s.store.Set(ctx, RoutineStepsKey, steps); err != nil {
		return nil, fmt.Errorf("save routine: %w", err)
	}
	return steps, nil
}

// SkinScore returns the last analysis result, nil when there is none
func (s *Service) SkinScore(ctx context.Context) *models.SkinScore {
	score, ok := kv.Get[models.SkinScore](ctx, s.store, SkinScoreKey)
	if !ok {
		return nil
	}
	return &score
}

// RecordAnalysis keeps score locally and attaches it to the user's latest
// remote scan row. Remote failures are logged only.
func (s *Service) RecordAnalysis(ctx context.Context, score models.SkinScore) error {
	if err := s.store.Set(ctx, SkinScoreKey, score); err != nil {
		return fmt.Errorf("save skin score: %w", err)
	}

	session, err := s.sessions.Current(ctx)
	if err != nil {
		return nil
	}
	if err := s.analysis.RecordAnalysis(ctx, session.UserID, score); err != nil {
		s.log.Error().Err(err).Str("user_id", session.UserID).Msg("failed to save analysis result")
	}
	return nil
}

// ResetProgress forgets quiz answers and the skin score
func (s *Service) ResetProgress(ctx context.Context) error {
	return errors.Join(
		s.store.Remove(ctx, QuizAnswersKey),
		s.store.Remove(ctx, SkinScoreKey),
	)
}
