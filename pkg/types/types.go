package types

import (
	"encoding/json"
	"fmt"
)

// Stage represents the coarse phase of a transfer job
type Stage string

const (
	StagePending     Stage = "pending"
	StageDownloading Stage = "downloading"
	StageUploading   Stage = "uploading"
	StageDownloaded  Stage = "downloaded"
	StageUploaded    Stage = "uploaded"
	StageProcessing  Stage = "processing"
	StageRepacking   Stage = "repacking"
	StagePacked      Stage = "packed"
	StageMoved       Stage = "moved"
	StageError       Stage = "error"
)

// Terminal reports whether no further transition can follow the stage.
func (s Stage) Terminal() bool {
	return s == StageError || s == StageMoved
}

// TransferKind identifies what a transfer carries
type TransferKind string

const (
	KindArchive TransferKind = "archive"
	KindImage   TransferKind = "img"
)

// Mode identifies how the payload reaches the service
type Mode string

const (
	ModeDownloadURL   Mode = "download_url"
	ModeUploadArchive Mode = "upload_archive"
	ModeUploadImage   Mode = "upload_image"
)

// PackFormatZip is the only supported canonical pack format.
const PackFormatZip = "zip"

// DefaultPackLevel is used when a token carries no pack_level claim.
const DefaultPackLevel = 3

// Reason classifies a terminal transfer failure
type Reason string

const (
	ReasonTokenMissing       Reason = "token_missing"
	ReasonTokenInvalid       Reason = "token_invalid"
	ReasonUnsafePath         Reason = "unsafe_path"
	ReasonInvalidJobID       Reason = "invalid_job_id"
	ReasonInvalidDownloadURL Reason = "invalid_download_url"
	ReasonUnsupportedFormat  Reason = "unsupported_format"
	ReasonUnsupportedKind    Reason = "unsupported_kind"
	ReasonSizeLimit          Reason = "size_limit"
	ReasonEncryptedZip       Reason = "encrypted_zip"
	ReasonNotImage           Reason = "not_image"
	ReasonImagePrepareFailed Reason = "image_prepare_failed"
	ReasonRepackFailed       Reason = "repack_failed"
	ReasonTimeout            Reason = "timeout"
	ReasonException          Reason = "exception"
)

// UpstreamStatusReason encodes a non-200 upstream response as a reason code.
func UpstreamStatusReason(code int) Reason {
	return Reason(fmt.Sprintf("status:%d", code))
}

// Allowed storage type roots under the storage directory.
var allowedTypes = map[string]bool{
	"archive":  true,
	"img":      true,
	"resource": true,
	"avatar":   true,
}

// Storage types accepted for image-mode uploads.
var allowedUploadTypes = map[string]bool{
	"img":      true,
	"resource": true,
	"avatar":   true,
}

// IsAllowedType reports whether typ names a valid storage root.
func IsAllowedType(typ string) bool {
	return allowedTypes[typ]
}

// IsAllowedUploadType reports whether typ may receive image-mode uploads.
func IsAllowedUploadType(typ string) bool {
	return allowedUploadTypes[typ]
}

// Event kinds published on the progress channel
const (
	EventStage    = "stage"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one progress-channel payload. Kind selects which fields are
// emitted; Total marshals as an explicit null when the size is unknown.
type Event struct {
	Kind    string
	Stage   Stage
	Status  Stage
	Bytes   int64
	Total   *int64
	Message string
}

// NewStageEvent announces a stage transition.
func NewStageEvent(stage Stage) Event {
	return Event{Kind: EventStage, Stage: stage}
}

// NewProgressEvent reports the running byte counter.
func NewProgressEvent(bytes int64, total *int64, stage Stage) Event {
	return Event{Kind: EventProgress, Bytes: bytes, Total: total, Stage: stage}
}

// NewSnapshotEvent is the initial state sent to a fresh subscriber. It is a
// progress payload that additionally carries the status field.
func NewSnapshotEvent(bytes int64, total *int64, stage Stage) Event {
	return Event{Kind: EventProgress, Bytes: bytes, Total: total, Stage: stage, Status: stage}
}

// NewCompleteEvent announces successful completion.
func NewCompleteEvent(bytes int64, total *int64, stage Stage) Event {
	return Event{Kind: EventComplete, Bytes: bytes, Total: total, Stage: stage}
}

// NewErrorEvent announces a terminal failure.
func NewErrorEvent(message string) Event {
	return Event{Kind: EventError, Message: message}
}

// MarshalJSON emits only the fields that belong to the event kind.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{"event": e.Kind}
	switch e.Kind {
	case EventStage:
		m["stage"] = e.Stage
	case EventProgress, EventComplete:
		m["bytes"] = e.Bytes
		m["total"] = e.Total
		m["stage"] = e.Stage
		if e.Status != "" {
			m["status"] = e.Status
		}
	case EventError:
		m["message"] = e.Message
	}
	return json.Marshal(m)
}

// Meta is the durable projection of a job, rewritten atomically as
// temp/<job_id>/meta.json on every stage change. status and stage carry the
// same value; both keys are kept for consumers of either vocabulary.
type Meta struct {
	JobID               string       `json:"job_id"`
	ModID               int64        `json:"mod_id,omitempty"`
	TransferKind        TransferKind `json:"transfer_kind,omitempty"`
	StorageType         string       `json:"storage_type,omitempty"`
	FileKind            string       `json:"file_kind,omitempty"`
	DownloadURL         string       `json:"download_url,omitempty"`
	Filename            string       `json:"filename,omitempty"`
	DownloadPath        string       `json:"download_path,omitempty"`
	PackFormat          string       `json:"pack_format,omitempty"`
	PackLevel           int          `json:"pack_level,omitempty"`
	Status              Stage        `json:"status,omitempty"`
	Stage               Stage        `json:"stage,omitempty"`
	Error               string       `json:"error,omitempty"`
	ErrorReason         Reason       `json:"error_reason,omitempty"`
	PackedPath          string       `json:"packed_path,omitempty"`
	PackedBytes         int64        `json:"packed_bytes,omitempty"`
	PackedFormat        string       `json:"packed_format,omitempty"`
	FinalPath           string       `json:"final_path,omitempty"`
	FinalBytes          int64        `json:"final_bytes,omitempty"`
	DownloadedBytes     int64        `json:"downloaded_bytes,omitempty"`
	UploadBytes         int64        `json:"upload_bytes,omitempty"`
	TotalBytes          *int64       `json:"total_bytes,omitempty"`
	CreatedAt           int64        `json:"created_at,omitempty"`
	DownloadStartedAt   int64        `json:"download_started_at,omitempty"`
	DownloadCompletedAt int64        `json:"download_completed_at,omitempty"`
	UploadCompletedAt   int64        `json:"upload_completed_at,omitempty"`
	MovedAt             int64        `json:"moved_at,omitempty"`
}

// SetStage updates both stage projections.
func (m *Meta) SetStage(s Stage) {
	m.Stage = s
	m.Status = s
}

// CallbackStatus is the terminal outcome reported to the manager
type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "success"
	CallbackError   CallbackStatus = "error"
)

// CallbackPayload is the JSON body POSTed to the manager callback URL on a
// terminal transition. CallbackContext is returned verbatim from the token.
type CallbackPayload struct {
	JobID           string         `json:"job_id"`
	Status          CallbackStatus `json:"status"`
	Reason          Reason         `json:"reason,omitempty"`
	Bytes           int64          `json:"bytes"`
	Total           *int64         `json:"total"`
	TransferKind    TransferKind   `json:"transfer_kind,omitempty"`
	PackedFormat    string         `json:"packed_format,omitempty"`
	ModID           int64          `json:"mod_id,omitempty"`
	StorageType     string         `json:"storage_type,omitempty"`
	FileKind        string         `json:"file_kind,omitempty"`
	CallbackAction  string         `json:"callback_action,omitempty"`
	CallbackContext map[string]any `json:"callback_context,omitempty"`
}
