// Package model contains domain records passed between layers.
package model

import (
	"image"
	"time"
)

// Prediction is one ranked candidate of an inference call.
type Prediction struct {
	ClassIndex int       `json:"class_index"`
	HerbID     string    `json:"herb_id"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	Features   []float32 `json:"features"`
	// Known is false when the class label has no catalog entry; callers
	// should then show raw scores only.
	Known bool `json:"known"`
	// Substituted marks a synthetic confidence produced in tolerant mode.
	Substituted bool `json:"substituted,omitempty"`
}

// Metrics is the result bundle of one inference call. Predictions are sorted
// by descending confidence with ties kept in catalog order.
type Metrics struct {
	Accuracy       float64       `json:"accuracy"`
	ProcessingTime time.Duration `json:"processing_time"`
	MemoryBytes    int64         `json:"memory_bytes"`
	Predictions    []Prediction  `json:"predictions"`
	Substituted    int           `json:"substituted"`
}

// Top returns the highest ranked prediction.
func (m Metrics) Top() (Prediction, bool) {
	if len(m.Predictions) == 0 {
		return Prediction{}, false
	}
	return m.Predictions[0], true
}

// RecognitionRecord is one entry of the in-session recognition history.
type RecognitionRecord struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	HerbID         string        `json:"herb_id,omitempty"`
	HerbName       string        `json:"herb_name,omitempty"`
	Confidence     float64       `json:"confidence"`
	Accuracy       float64       `json:"accuracy"`
	ProcessingTime time.Duration `json:"processing_time"`
	ImageFormat    string        `json:"image_format,omitempty"`
	ImageWidth     int           `json:"image_width"`
	ImageHeight    int           `json:"image_height"`
}

// Feedback is a user's verdict on one prediction.
type Feedback struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	PredictionID      string    `json:"prediction_id"`
	ActualHerbName    string    `json:"actual_herb_name"`
	PredictedHerbName string    `json:"predicted_herb_name"`
	IsCorrect         bool      `json:"is_correct"`
	Confidence        float64   `json:"confidence"`
	UserRating        int       `json:"user_rating"`
	Comments          string    `json:"comments,omitempty"`
	// Verdict is the user's explicit answer to "was this right?". When nil,
	// IsCorrect is derived by comparing the herb names.
	Verdict *bool `json:"-"`
}

// Job is a queued inference request. Reply is buffered so a worker never
// blocks on a caller that stopped waiting.
type Job struct {
	ID       string
	Image    image.Image
	Format   string
	Enqueued time.Time
	Reply    chan JobResult
}

// NewJob creates a job with a one-slot reply channel.
func NewJob(id string, img image.Image, format string) Job {
	return Job{ID: id, Image: img, Format: format, Enqueued: time.Now(), Reply: make(chan JobResult, 1)}
}

// JobResult is the outcome delivered on Job.Reply.
type JobResult struct {
	Metrics Metrics
	Record  *RecognitionRecord
	Err     error
}
