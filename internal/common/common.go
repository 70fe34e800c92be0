package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey       = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON    = "application/json"
	ContentTypeOctet   = "application/octet-stream"
	ContentTypeBinary  = "binary/octet-stream"
	MultipartFieldFile = "file"
)

// API paths
const (
	PathRoot        = "/"
	PathAPIPrefix   = "/api/v1"
	PathHealthz     = PathAPIPrefix + "/healthz"
	PathUploadAudio = PathAPIPrefix + "/upload/audio"
	PathUploadVideo = PathAPIPrefix + "/upload/video"
	PathStatus      = PathAPIPrefix + "/status"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 2
	SQLiteBusyTimeoutMS  = 5000
)

// Executables
const (
	FFmpegExecutable  = "ffmpeg"
	WhisperExecutable = "whisper-cli"
)

// MIME families
const (
	MimeFamilyAudio = "audio/"
	MimeFamilyVideo = "video/"
)

// Subdirectory names under the storage dir
const (
	AudioDirName       = "audio"
	VideoDirName       = "video"
	TempDirName        = "temp"
	TranscriptsDirName = "transcripts"
	DatabaseFileName   = "mediascribe.db"
)

// Structured log keys
const (
	LogKeyJobID    = "job_id"
	LogKeyStatus   = "status"
	LogKeyKind     = "kind"
	LogKeyPath     = "path"
	LogKeyErr      = "err"
	LogKeyDuration = "duration"
)

// Upload response status string
const StatusSuccess = "success"
