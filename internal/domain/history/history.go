// Package history keeps the in-session recognition history and user feedback.
// Nothing is persisted; both lists are bounded and evict their oldest entries.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/pkg/metrics"
)

const (
	defaultMaxSize = 100
	minRating      = 1
	maxRating      = 5
)

// Store records recognitions and feedback.
type Store interface {
	// AddRecord stores rec, assigning an ID and timestamp when missing.
	AddRecord(ctx context.Context, rec model.RecognitionRecord) model.RecognitionRecord
	Record(ctx context.Context, id string) (model.RecognitionRecord, bool)
	// Records returns up to limit records, newest first; limit <= 0 means all.
	Records(ctx context.Context, limit int) []model.RecognitionRecord
	// AddFeedback validates and stores fb.
	AddFeedback(ctx context.Context, fb model.Feedback) (model.Feedback, error)
	Feedback(ctx context.Context, limit int) []model.Feedback
	Stats(ctx context.Context) Stats
	Len() int
}

// Stats summarizes the retained history.
type Stats struct {
	AverageAccuracy       float64       `json:"average_accuracy"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	TotalPredictions      int           `json:"total_predictions"`
	UserSatisfaction      float64       `json:"user_satisfaction"`
	CorrectPredictions    int           `json:"correct_predictions"`
	FeedbackCount         int           `json:"feedback_count"`
}

// Option configures the in-memory store.
type Option func(*inMemoryStore)

// WithMaxSize bounds each list. Values <= 0 leave the lists unbounded.
func WithMaxSize(n int) Option {
	return func(s *inMemoryStore) { s.maxSize = n }
}

// WithClock replaces time.Now for assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *inMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

type inMemoryStore struct {
	mu       sync.RWMutex
	records  *boundedList[model.RecognitionRecord]
	feedback *boundedList[model.Feedback]
	maxSize  int
	now      func() time.Time
}

// NewInMemoryStore creates a bounded in-memory Store.
func NewInMemoryStore(opts ...Option) Store {
	s := &inMemoryStore{maxSize: defaultMaxSize, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.records = newBoundedList[model.RecognitionRecord](s.maxSize)
	s.feedback = newBoundedList[model.Feedback](s.maxSize)
	return s
}

func (s *inMemoryStore) AddRecord(_ context.Context, rec model.RecognitionRecord) model.RecognitionRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.records.get(rec.ID); dup {
		return rec
	}
	s.records.push(rec.ID, rec)
	metrics.UpdateHistoryRecords(s.records.len())
	return rec
}

func (s *inMemoryStore) Record(_ context.Context, id string) (model.RecognitionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.get(id)
}

func (s *inMemoryStore) Records(_ context.Context, limit int) []model.RecognitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.newest(limit)
}

func (s *inMemoryStore) AddFeedback(_ context.Context, fb model.Feedback) (model.Feedback, error) {
	if fb.UserRating < minRating || fb.UserRating > maxRating {
		return model.Feedback{}, fmt.Errorf("%w: rating %d outside %d..%d", ErrInvalidFeedback, fb.UserRating, minRating, maxRating)
	}
	if strings.TrimSpace(fb.PredictionID) == "" {
		return model.Feedback{}, fmt.Errorf("%w: prediction id is required", ErrInvalidFeedback)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records.get(fb.PredictionID); ok {
		if fb.PredictedHerbName == "" {
			fb.PredictedHerbName = rec.HerbName
		}
		if fb.Confidence == 0 {
			fb.Confidence = rec.Confidence
		}
	}
	if fb.ActualHerbName == "" {
		fb.ActualHerbName = fb.PredictedHerbName
	}
	switch {
	case fb.Verdict != nil:
		fb.IsCorrect = *fb.Verdict
	case fb.ActualHerbName != "" && fb.PredictedHerbName != "":
		fb.IsCorrect = fb.ActualHerbName == fb.PredictedHerbName
	}
	fb.Verdict = nil
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = s.now()
	}
	s.feedback.push(fb.ID, fb)
	metrics.RecordFeedback(fb.IsCorrect)
	return fb, nil
}

func (s *inMemoryStore) Feedback(_ context.Context, limit int) []model.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedback.newest(limit)
}

// Stats is all zero until at least one recognition is recorded.
func (s *inMemoryStore) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.records.len()
	if n == 0 {
		return Stats{}
	}
	var st Stats
	var accuracy float64
	var elapsed time.Duration
	s.records.each(func(r model.RecognitionRecord) {
		accuracy += r.Accuracy
		elapsed += r.ProcessingTime
	})
	st.TotalPredictions = n
	st.AverageAccuracy = accuracy / float64(n)
	st.AverageProcessingTime = elapsed / time.Duration(n)

	var rating int
	s.feedback.each(func(f model.Feedback) {
		rating += f.UserRating
		if f.IsCorrect {
			st.CorrectPredictions++
		}
	})
	st.FeedbackCount = s.feedback.len()
	if st.FeedbackCount > 0 {
		st.UserSatisfaction = float64(rating) / float64(st.FeedbackCount)
	}
	return st
}

func (s *inMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.len()
}
