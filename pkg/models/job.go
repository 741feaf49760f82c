package models

import "time"

// JobStatus is the lifecycle state of a transformation job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the lifecycle record for one transformation request. Transitions:
// queued -> running -> done, or queued -> running -> queued (retry, up to the
// configured maximum), or queued -> running -> failed once retries are
// exhausted. Retries counts failed attempts, so a job that fails its initial
// attempt plus two retries ends failed with Retries == 3.
type Job struct {
	ID             string     `json:"id"`
	Domain         string     `json:"domain"`
	App            string     `json:"app"`
	Collection     string     `json:"collection"`
	ItemID         string     `json:"item_id"`
	Transformation string     `json:"transformation"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	Retries        int        `json:"retries"`
}
