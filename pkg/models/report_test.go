package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "detox/pkg/models"
)

func TestReportBuilder_AllSucceeded(t *testing.T) {
	b := NewReportBuilder([]string{"lint", "test"})
	b.Record(JobResult{Name: "lint", Status: JobSucceeded})
	b.Record(JobResult{Name: "test", Status: JobSucceeded})

	r := b.Finalize()

	assert.True(t, r.Overall)
	assert.Equal(t, []string{"lint", "test"}, r.Successful)
	assert.Empty(t, r.Failed)
	assert.Empty(t, r.Skipped)
}

func TestReportBuilder_SkippedAreUnrecorded(t *testing.T) {
	b := NewReportBuilder([]string{"a", "b", "c"})
	b.Record(JobResult{Name: "a", Status: JobSucceeded})
	b.Record(JobResult{Name: "b", Status: JobFailed, Err: errors.New("no commands")})

	r := b.Finalize()

	assert.False(t, r.Overall)
	assert.Equal(t, []string{"a"}, r.Successful)
	assert.Equal(t, []string{"b"}, r.Failed)
	assert.Equal(t, []string{"c"}, r.Skipped)
	assert.Equal(t, JobSkipped, r.Status("c"))
	assert.Equal(t, JobPending, r.Status("unknown"))
}

func TestReportBuilder_DuplicateFailureWins(t *testing.T) {
	b := NewReportBuilder([]string{"x", "x"})
	b.Record(JobResult{Name: "x", Status: JobFailed})
	b.Record(JobResult{Name: "x", Status: JobSucceeded})

	r := b.Finalize()

	assert.Equal(t, []string{"x"}, r.Failed)
	assert.Empty(t, r.Successful)
	assert.Len(t, r.Results, 2)
}

func TestReportBuilder_FinalizeIsDetached(t *testing.T) {
	sel := []string{"a"}
	b := NewReportBuilder(sel)
	b.Record(JobResult{Name: "a", Status: JobSucceeded})
	r := b.Finalize()

	sel[0] = "mutated"
	b.Record(JobResult{Name: "a", Status: JobFailed})

	assert.Equal(t, []string{"a"}, r.Selector)
	assert.Len(t, r.Results, 1)
	assert.True(t, r.Overall)
}

func TestValue_Empty(t *testing.T) {
	assert.True(t, Value{}.Empty())
	assert.True(t, StringValue("").Empty())
	assert.True(t, ListValue().Empty())
	assert.False(t, StringValue("x").Empty())
	assert.False(t, ListValue("x").Empty())
}

func TestMapping_KeepsFirstPosition(t *testing.T) {
	m := NewMapping()
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, m.Keys)
	v, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestNewRunRecord(t *testing.T) {
	run := &Run{
		ID:          uuid.New(),
		WorkDir:     "/src",
		StartedAt:   time.Now(),
		Elapsed:     1500 * time.Millisecond,
		TeardownErr: errors.New("rm failed"),
		Report: RunReport{
			Selector:   []string{"a", "b"},
			Successful: []string{"a"},
			Failed:     []string{"b"},
			Results: []JobResult{
				{Name: "a", Status: JobSucceeded, Duration: time.Second},
				{Name: "b", Status: JobFailed, Err: errors.New("boom")},
			},
		},
	}

	rec := NewRunRecord(run)

	assert.Equal(t, run.ID, rec.ID)
	assert.Equal(t, int64(1500), rec.DurationMS)
	assert.Equal(t, "rm failed", rec.TeardownErr)
	require.Len(t, rec.Jobs, 2)
	assert.Equal(t, "boom", rec.Jobs[1].Error)
	assert.Equal(t, 1, rec.Jobs[1].Position)
	assert.Equal(t, "failure", run.Result())
}
