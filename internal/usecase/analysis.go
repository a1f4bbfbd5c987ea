package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fruit-check/internal/classifier"
	"github.com/example/fruit-check/internal/fruit"
	"github.com/example/fruit-check/internal/logging"
	"github.com/example/fruit-check/internal/repository"
)

// HistoryRepository records resolved classifier calls and aggregates them.
type HistoryRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalysisUseCase owns the per-session upload → preview → analyze → result flow.
type AnalysisUseCase struct {
	store      SessionStore
	classifier classifier.Client
	history    HistoryRepository
	logger     *zap.Logger
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
	pending sync.WaitGroup
}

// sessionLock serializes one session's mutations. It is dropped from the map
// once no caller holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewAnalysisUseCase constructs a new use case instance. history may be nil.
func NewAnalysisUseCase(store SessionStore, client classifier.Client, history HistoryRepository, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		store:      store,
		classifier: client,
		history:    history,
		logger:     logger.Named("analysis_usecase"),
		now:        time.Now,
		locks:      make(map[string]*sessionLock),
	}
}

// SelectImage replaces the session's image, clears any result and starts deriving
// the preview in the background.
func (uc *AnalysisUseCase) SelectImage(ctx context.Context, sessionID string, img classifier.Image, width, height int) (*Snapshot, error) {
	var generation uint64
	snap, err := uc.update(ctx, sessionID, "usecase.select_image", func(s *Snapshot) bool {
		s.Generation++
		generation = s.Generation
		s.Image = &SelectedImage{
			Name:        img.Name,
			ContentType: img.ContentType,
			Data:        img.Data,
			Width:       width,
			Height:      height,
		}
		s.Result = AnalysisResult{}
		return true
	})
	if err != nil {
		return nil, err
	}

	uc.background(func() {
		uc.derivePreview(ctx, sessionID, generation, img)
	})
	return snap, nil
}

// derivePreview marks the preview of generation ready. A preview started for an
// earlier selection never touches a later image or a reset session.
func (uc *AnalysisUseCase) derivePreview(ctx context.Context, sessionID string, generation uint64, img classifier.Image) {
	opLogger := logging.WithOperation(uc.logger, "usecase.apply_preview", sessionID)
	if len(img.Data) == 0 {
		opLogger.Warn("no image bytes to preview")
		return
	}

	_, err := uc.update(context.WithoutCancel(ctx), sessionID, "usecase.apply_preview", func(s *Snapshot) bool {
		if s.Generation != generation || s.Image == nil {
			opLogger.Debug("discarding stale preview", zap.Uint64("generation", generation), zap.Uint64("current", s.Generation))
			return false
		}
		s.Image.PreviewReady = true
		return true
	})
	if err != nil {
		opLogger.Error("failed to store preview", zap.Error(err))
	}
}

// Analyze starts classifying the selected image. It reports false, and leaves the
// session untouched, when no image is selected.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, sessionID string) (bool, *Snapshot, error) {
	var (
		started    bool
		generation uint64
		attempt    uint64
		img        classifier.Image
	)
	snap, err := uc.update(ctx, sessionID, "usecase.analyze", func(s *Snapshot) bool {
		if s.Image == nil {
			return false
		}
		s.Attempt++
		s.Result.Processing = true
		started = true
		generation, attempt = s.Generation, s.Attempt
		img = classifier.Image{Name: s.Image.Name, ContentType: s.Image.ContentType, Data: s.Image.Data}
		return true
	})
	if err != nil {
		return false, nil, err
	}
	if !started {
		logging.WithOperation(uc.logger, "usecase.analyze", sessionID).Debug("analyze ignored, no image selected")
		return false, snap, nil
	}

	uc.background(func() {
		uc.runAnalysis(context.WithoutCancel(ctx), sessionID, generation, attempt, img)
	})
	return true, snap, nil
}

func (uc *AnalysisUseCase) runAnalysis(ctx context.Context, sessionID string, generation, attempt uint64, img classifier.Image) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.run_analysis", sessionID).With(zap.String("request_id", requestID))

	started := uc.now()
	result, classifyErr := uc.classifier.Classify(ctx, img)
	latency := uc.now().Sub(started)

	applied := false
	_, err := uc.update(ctx, sessionID, "usecase.resolve_analysis", func(s *Snapshot) bool {
		if s.Generation != generation || s.Attempt != attempt {
			return false
		}
		applied = true
		if classifyErr != nil {
			s.Result.Processing = false
			s.Notifications = append(s.Notifications, Notification{
				Level:     "error",
				Message:   classifier.UserMessage(classifyErr),
				CreatedAt: uc.now().UTC(),
			})
			return true
		}
		s.Result = AnalysisResult{
			FruitType:  result.FruitType,
			Condition:  result.Condition,
			Confidence: result.Confidence,
			Processing: false,
		}
		return true
	})
	if err != nil {
		opLogger.Error("failed to store analysis outcome", zap.Error(err))
	}

	switch {
	case !applied:
		opLogger.Info("discarding stale analysis outcome", zap.Uint64("attempt", attempt), zap.Error(classifyErr))
	case classifyErr != nil:
		opLogger.Warn("analysis failed", zap.Error(classifyErr), zap.Duration("latency", latency))
	default:
		opLogger.Info("analysis completed",
			zap.String("fruit_type", string(result.FruitType)),
			zap.String("condition", string(result.Condition)),
			zap.Int("confidence", result.Confidence),
			zap.Duration("latency", latency),
		)
	}

	uc.record(ctx, opLogger, requestID, sessionID, img, result, classifyErr, applied, latency)
}

func (uc *AnalysisUseCase) record(ctx context.Context, opLogger *zap.Logger, requestID, sessionID string, img classifier.Image, result fruit.Result, classifyErr error, applied bool, latency time.Duration) {
	if uc.history == nil {
		return
	}

	hash := sha1.Sum(img.Data)
	log := &repository.AnalysisLog{
		RequestID: requestID,
		SessionID: sessionID,
		SHA1Hash:  hex.EncodeToString(hash[:]),
		Success:   classifyErr == nil,
		Applied:   applied,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: uc.now().UTC(),
	}
	if classifyErr != nil {
		log.Error = classifyErr.Error()
	} else {
		log.FruitType = string(result.FruitType)
		log.Condition = string(result.Condition)
		log.Confidence = result.Confidence
	}

	if err := uc.history.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist analysis log", zap.Error(err))
	}
}

// Reset clears the selected image and result, invalidating in-flight work.
func (uc *AnalysisUseCase) Reset(ctx context.Context, sessionID string) (*Snapshot, error) {
	return uc.update(ctx, sessionID, "usecase.reset", func(s *Snapshot) bool {
		s.Generation++
		s.Image = nil
		s.Result = AnalysisResult{}
		return true
	})
}

// State returns the current snapshot without modifying it.
func (uc *AnalysisUseCase) State(ctx context.Context, sessionID string) (*Snapshot, error) {
	return uc.update(ctx, sessionID, "usecase.state", func(*Snapshot) bool { return false })
}

// TakeNotifications returns the current snapshot and removes its pending notifications.
// The returned snapshot still carries the drained notifications.
func (uc *AnalysisUseCase) TakeNotifications(ctx context.Context, sessionID string) (*Snapshot, error) {
	var drained []Notification
	snap, err := uc.update(ctx, sessionID, "usecase.take_notifications", func(s *Snapshot) bool {
		if len(s.Notifications) == 0 {
			return false
		}
		drained = s.Notifications
		s.Notifications = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	snap.Notifications = drained
	return snap, nil
}

// Wait blocks until all background previews and analyses have resolved.
func (uc *AnalysisUseCase) Wait() {
	uc.pending.Wait()
}

// WaitContext is Wait bounded by ctx.
func (uc *AnalysisUseCase) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (uc *AnalysisUseCase) background(fn func()) {
	uc.pending.Add(1)
	go func() {
		defer uc.pending.Done()
		fn()
	}()
}

func (uc *AnalysisUseCase) update(ctx context.Context, sessionID, operation string, fn func(*Snapshot) bool) (*Snapshot, error) {
	unlock := uc.lock(sessionID)
	defer unlock()

	snap, err := uc.store.Load(ctx, sessionID)
	if err != nil {
		return nil, logging.NewOperationError(operation, sessionID, err)
	}
	if !fn(snap) {
		return snap, nil
	}
	if err := uc.store.Save(ctx, sessionID, snap); err != nil {
		return nil, logging.NewOperationError(operation, sessionID, err)
	}
	return snap.Clone(), nil
}

func (uc *AnalysisUseCase) lock(sessionID string) func() {
	uc.locksMu.Lock()
	l, ok := uc.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		uc.locks[sessionID] = l
	}
	l.refs++
	uc.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		uc.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(uc.locks, sessionID)
		}
		uc.locksMu.Unlock()
	}
}
