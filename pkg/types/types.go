package types

import "time"

// StageResult records one executed stage. It is created by the runner when
// the stage completes and never mutated afterwards.
type StageResult struct {
	Name              string          `json:"name"`
	Status            StageStatus     `json:"status"`
	ExitStatus        int             `json:"exitStatus"`
	ContinueOnFailure bool            `json:"continueOnFailure,omitempty"`
	FailureCategory   FailureCategory `json:"failureCategory,omitempty"`
	StartTime         time.Time       `json:"startTime"`
	EndTime           time.Time       `json:"endTime"`
	CapturedOutput    string          `json:"capturedOutput,omitempty"`
	OutputTruncated   bool            `json:"outputTruncated,omitempty"`
	LogPath           string          `json:"logPath,omitempty"`
	LogSHA256         string          `json:"logSha256,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Duration returns the wall-clock time the stage took.
func (r StageResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Fatal reports whether this result halted the run.
func (r StageResult) Fatal() bool {
	return r.Status == StageFailed && !r.ContinueOnFailure
}

// RunReport is the record of one pipeline execution. The runner finalizes it
// exactly once; it is immutable thereafter.
type RunReport struct {
	RunID       string        `json:"runId"`
	Pipeline    string        `json:"pipeline"`
	BuildNumber int64         `json:"buildNumber"`
	Outcome     Outcome       `json:"outcome"`
	Degraded    bool          `json:"degraded,omitempty"` // a continueOnFailure stage failed
	Stages      []StageResult `json:"stages"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	LogURL      string        `json:"logUrl,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Duration returns the wall-clock time of the whole run.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedStages returns the names of stages that failed, fatal or not.
func (r RunReport) FailedStages() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Status == StageFailed {
			names = append(names, s.Name)
		}
	}
	return names
}

// Attachment is a file delivered alongside a notification.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// Message is the email-style notification rendered from a RunReport.
type Message struct {
	Subject     string       `json:"subject"`
	HTMLBody    string       `json:"htmlBody"`
	TextBody    string       `json:"textBody"`
	Recipient   string       `json:"recipient,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Report      *RunReport   `json:"report"`
}
