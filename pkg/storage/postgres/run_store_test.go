package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"detox/pkg/models"
	"detox/pkg/storage/postgres"
)

// RunStoreSuite needs a live database; set DETOX_TEST_DATABASE_URL to run it.
type RunStoreSuite struct {
	suite.Suite
	store *postgres.RunStore
}

func (s *RunStoreSuite) SetupSuite() {
	dsn := os.Getenv("DETOX_TEST_DATABASE_URL")
	if dsn == "" || testing.Short() {
		s.T().Skip("DETOX_TEST_DATABASE_URL not set")
	}
	store, err := postgres.NewRunStore(dsn)
	if err != nil {
		s.T().Skipf("database not available: %v", err)
	}
	s.store = store
}

func (s *RunStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *RunStoreSuite) TestRecordAndList() {
	ctx := context.Background()
	b := models.NewReportBuilder([]string{"lint", "test"})
	b.Record(models.JobResult{Name: "lint", Status: models.JobSucceeded, Duration: time.Second})
	b.Record(models.JobResult{Name: "test", Status: models.JobFailed, Duration: 2 * time.Second})
	run := &models.Run{
		ID:        uuid.New(),
		WorkDir:   "/work/" + uuid.NewString(),
		StartedAt: time.Now().Add(time.Hour), // newest in a shared database
		Report:    b.Finalize(),
	}

	s.Require().NoError(s.store.Record(ctx, run))

	last, err := s.store.Last(ctx)
	s.Require().NoError(err)
	s.Equal(run.ID, last.ID)
	s.False(last.Overall)
	s.Require().Len(last.Jobs, 2)
	s.Equal("lint", last.Jobs[0].Name)
	s.Equal(models.JobFailed, last.Jobs[1].Status)
	s.Equal(models.StringList{"test"}, last.Failed)

	recent, err := s.store.ListRecent(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(run.ID, recent[0].ID)
}

func TestRunStoreSuite(t *testing.T) {
	suite.Run(t, new(RunStoreSuite))
}
