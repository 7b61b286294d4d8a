package protocol

import "time"

// JobSubmit asks the daemon to queue a long-form synthesis job.
type JobSubmit struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// JobSubmitReply answers a JobSubmit request. Exactly one of JobID or Error is set.
type JobSubmitReply struct {
	JobID string `json:"job_id,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// JobStatus is broadcast on every job state change.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Percent   int       `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectJobSubmit = "tts.job.submit"
	SubjectJobStatus = "tts.job.status"
)
