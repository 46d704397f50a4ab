package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Host describes the machine a run executed on.
type Host struct {
	Hostname   string `json:"hostname"`
	CPUs       int    `json:"cpus"`
	TotalMemMB uint64 `json:"total_mem_mb"`
}

// Run is the artifact of one invocation, handed to reporting and sinks.
type Run struct {
	ID          uuid.UUID
	WorkDir     string
	ConfigPath  string
	StartedAt   time.Time
	Elapsed     time.Duration
	Report      RunReport
	TeardownErr error
	Host        Host
}

// Result returns "success" or "failure" for the run's jobs.
func (r *Run) Result() string {
	if r.Report.Overall {
		return "success"
	}
	return "failure"
}

// StringList is a []string stored as JSONB.
type StringList []string

func (l *StringList) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

// RunRecord is the persisted form of a Run.
type RunRecord struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	WorkDir     string      `json:"work_dir" gorm:"not null;index"`
	ConfigPath  string      `json:"config_path"`
	Hostname    string      `json:"hostname"`
	StartedAt   time.Time   `json:"started_at" gorm:"not null;index"`
	DurationMS  int64       `json:"duration_ms"`
	Overall     bool        `json:"overall"`
	Selector    StringList  `json:"selector" gorm:"type:jsonb"`
	Successful  StringList  `json:"successful" gorm:"type:jsonb"`
	Failed      StringList  `json:"failed" gorm:"type:jsonb"`
	Skipped     StringList  `json:"skipped" gorm:"type:jsonb"`
	TeardownErr string      `json:"teardown_error,omitempty"`
	Jobs        []JobRecord `json:"jobs" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time   `json:"created_at"`
}

// BeforeCreate hook to generate UUID if not present
func (r *RunRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// JobRecord is the persisted form of a JobResult.
type JobRecord struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	RunID      uuid.UUID `json:"run_id" gorm:"type:uuid;not null;index"`
	Position   int       `json:"position"`
	Name       string    `json:"name" gorm:"not null"`
	ExecID     string    `json:"exec_id"`
	Status     JobStatus `json:"status" gorm:"type:varchar(20);not null"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	LogRef     string    `json:"log_ref,omitempty"`
}

// NewRunRecord converts a Run into its persisted form.
func NewRunRecord(run *Run) *RunRecord {
	rec := &RunRecord{
		ID:         run.ID,
		WorkDir:    run.WorkDir,
		ConfigPath: run.ConfigPath,
		Hostname:   run.Host.Hostname,
		StartedAt:  run.StartedAt,
		DurationMS: run.Elapsed.Milliseconds(),
		Overall:    run.Report.Overall,
		Selector:   StringList(run.Report.Selector),
		Successful: StringList(run.Report.Successful),
		Failed:     StringList(run.Report.Failed),
		Skipped:    StringList(run.Report.Skipped),
	}
	if run.TeardownErr != nil {
		rec.TeardownErr = run.TeardownErr.Error()
	}
	for i, res := range run.Report.Results {
		job := JobRecord{
			RunID:      run.ID,
			Position:   i,
			Name:       res.Name,
			ExecID:     res.ExecID,
			Status:     res.Status,
			DurationMS: res.Duration.Milliseconds(),
			LogRef:     res.LogRef,
		}
		if res.Err != nil {
			job.Error = res.Err.Error()
		}
		rec.Jobs = append(rec.Jobs, job)
	}
	return rec
}
