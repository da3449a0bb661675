package artifact

import "time"

// Status of a stored artifact. "saved" means the client explicitly committed
// the capture; "recovered" means the connection dropped mid-capture and the
// disconnect recovery path assembled what had been received.
const (
	StatusSaved     = "saved"
	StatusRecovered = "recovered"
)

// Location is the position snapshot taken when a capture session begins.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Artifact is the final assembled media object persisted for long-term
// storage. Created exactly once per committed or recovered session and
// immutable after creation.
type Artifact struct {
	ID        string        `json:"artifact_id"`
	SessionID string        `json:"session_id"`
	UserID    int64         `json:"user_id"`
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	Checksum  string        `json:"checksum"`
	Duration  time.Duration `json:"duration"`
	Location  Location      `json:"location"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// StoredEvent is the fan-out payload published once per subscribed observer
// when an artifact is committed or recovered.
type StoredEvent struct {
	ArtifactID string   `json:"artifact_id"`
	SessionID  string   `json:"session_id"`
	UserID     int64    `json:"user_id"`
	Size       int64    `json:"size"`
	DurationMS int64    `json:"duration_ms"`
	Location   Location `json:"location"`
	Status     string   `json:"status"`
	StoredAt   string   `json:"stored_at"`
}
