package engine

import "time"

// State is the position of a workflow in the upload state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingOriginInfo   State = "awaiting_origin_info"
	StateUploadingStylesheets State = "uploading_stylesheets"
	StateCapturingScreenshot  State = "capturing_screenshot"
	StateUploadingScreenshot  State = "uploading_screenshot"
	StateProcessing           State = "processing"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Outcome says how a terminal workflow ended.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeCaptureSkipped   Outcome = "capture_skipped"
	OutcomeUploadFailed     Outcome = "upload_failed"
	OutcomeRegistryRejected Outcome = "registry_rejected"
	OutcomeOriginUnresolved Outcome = "origin_unresolved"
	OutcomeSubmissionFailed Outcome = "submission_failed"
)

// Artifact is the stylesheet group issued by the backend.
type Artifact struct {
	ID     string `json:"id,omitempty"`
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// Workflow is one run of the state machine, from a stylesheet submission
// request to a terminal state.
type Workflow struct {
	ID        string    `json:"id"`
	TabID     int       `json:"tab_id"`
	State     State     `json:"state"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
	Artifact  Artifact  `json:"artifact"`
	PublicURL string    `json:"public_url,omitempty"`
	Err       string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
