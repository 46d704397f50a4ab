package models

import (
	"time"
)

// JobStatus represents the outcome of a selected job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// JobResult records one execution of a job.
type JobResult struct {
	Name     string
	ExecID   string
	Status   JobStatus
	Duration time.Duration
	Err      error  // why the job failed, nil on success
	LogRef   string // log store reference, empty when output was not stored
}

// RunReport is the final classification of every selected job.
// It is produced by ReportBuilder.Finalize and never modified afterwards.
type RunReport struct {
	Selector   []string
	Results    []JobResult
	Successful []string
	Failed     []string
	Skipped    []string
	Overall    bool
}

// Status returns the outcome recorded for name.
func (r *RunReport) Status(name string) JobStatus {
	for _, n := range r.Failed {
		if n == name {
			return JobFailed
		}
	}
	for _, n := range r.Successful {
		if n == name {
			return JobSucceeded
		}
	}
	for _, n := range r.Skipped {
		if n == name {
			return JobSkipped
		}
	}
	return JobPending
}

// ReportBuilder accumulates job results during the job loop.
type ReportBuilder struct {
	selector []string
	results  []JobResult
}

// NewReportBuilder starts a report for the given selector.
func NewReportBuilder(selector []string) *ReportBuilder {
	return &ReportBuilder{selector: append([]string(nil), selector...)}
}

// Record appends the result of one job execution.
func (b *ReportBuilder) Record(res JobResult) {
	b.results = append(b.results, res)
}

// Finalize reduces the recorded results into an immutable RunReport.
// A name executed more than once is failed if any of its executions failed.
func (b *ReportBuilder) Finalize() RunReport {
	status := make(map[string]JobStatus)
	for _, res := range b.results {
		if status[res.Name] == JobFailed {
			continue
		}
		status[res.Name] = res.Status
	}

	report := RunReport{
		Selector: append([]string(nil), b.selector...),
		Results:  append([]JobResult(nil), b.results...),
	}
	seen := make(map[string]bool)
	for _, name := range b.selector {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch status[name] {
		case JobSucceeded:
			report.Successful = append(report.Successful, name)
		case JobFailed:
			report.Failed = append(report.Failed, name)
		default:
			report.Skipped = append(report.Skipped, name)
		}
	}
	report.Overall = len(report.Failed) == 0
	return report
}
