package bench

import "time"

// Config holds configuration for a load run against a running server.
type Config struct {
	BaseURL   string        // Base URL of the service
	Images    int           // Number of synthetic images to submit
	Workers   int           // Number of concurrent submitters
	Size      int           // Edge length of generated images in pixels
	Timeout   time.Duration // HTTP request timeout
	OutputDir string        // Optional directory for the generated PNGs
	Verbose   bool          // Log every violation
}

// Entry mirrors one ranked candidate of a /predict response.
type Entry struct {
	Rank       int     `json:"rank"`
	HerbID     string  `json:"herb_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Known      bool    `json:"known"`
}

// PredictResponse mirrors the body of a successful /predict call.
type PredictResponse struct {
	RecordID         string  `json:"record_id"`
	Accuracy         float64 `json:"accuracy"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	MemoryBytes      int64   `json:"memory_bytes"`
	Predictions      []Entry `json:"predictions"`
}

// Image is one generated upload.
type Image struct {
	ID   string
	Data []byte
}

// Stats holds run statistics.
type Stats struct {
	ImagesGenerated int
	Submitted       int
	Successful      int
	Backpressured   int
	Failed          int
	Violations      int
	Herbs           int
	MeanServerMS    float64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
