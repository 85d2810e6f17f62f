package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathJobs    = "/v1/jobs"
	PathModels  = "/v1/models"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 4
	SQLiteBusyTimeoutMS  = 5000
)

// Subdirectory and file names
const (
	JobsDirName      = "jobs"
	DatabaseFileName = "reelsmith.db"
	LockFileName     = "reelsmith.lock"
	TimelineFileName = "timeline.json"
	CaptionsFileName = "captions.srt"
)

// Callback status strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Caption merge defaults
const (
	DefaultCaptionMaxWords    = 7
	DefaultCaptionMaxDuration = 2.8
	DefaultCaptionMaxGap      = 0.55
	DefaultCaptionMaxSegments = 180
)

// Clip generation defaults
const (
	DefaultClipMinSeconds  = 2
	DefaultClipMaxSeconds  = 10
	DefaultClipAspectRatio = "9:16"
	DefaultSectionSeconds  = 5
)
