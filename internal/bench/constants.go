package bench

// HTTP status code constants.
const (
	StatusOK              = 200
	StatusTooManyRequests = 429
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	PercentageMultiplier = 100
	DefaultImageSize     = 64
	confidenceTolerance  = 1e-9
)
