package suite_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detox/pkg/models"
	"detox/pkg/suite"
)

func jobs(names ...string) *models.JobSuite {
	js := &models.JobSuite{}
	for _, n := range names {
		js.Jobs = append(js.Jobs, models.JobSpec{Name: n, Commands: models.StringValue("true")})
	}
	return js
}

func TestResolve_ExplicitPreservesOrderAndDuplicates(t *testing.T) {
	js := jobs("lint", "test", "build")

	sel, err := suite.Resolve(js, []string{"build", "lint", "build"})

	require.NoError(t, err)
	assert.Equal(t, []string{"build", "lint", "build"}, sel)
}

func TestResolve_ExplicitOverridesRunSuite(t *testing.T) {
	js := jobs("lint", "test")
	js.HasRun = true // no suite key: would fail without explicit names

	sel, err := suite.Resolve(js, []string{"test"})

	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, sel)
}

func TestResolve_UnknownExplicitNamesFirstOffender(t *testing.T) {
	js := jobs("lint", "test")

	_, err := suite.Resolve(js, []string{"lint", "deploy", "publish"})

	var uj *suite.UnknownJobError
	require.ErrorAs(t, err, &uj)
	assert.Equal(t, "deploy", uj.Name)
	assert.Equal(t, "'deploy' not found in jobs suite", err.Error())
}

func TestResolve_RunIsNotAJob(t *testing.T) {
	js := jobs("lint")
	js.HasRun, js.HasSuite, js.Suite = true, true, []string{"lint"}

	_, err := suite.Resolve(js, []string{"run"})

	var uj *suite.UnknownJobError
	require.ErrorAs(t, err, &uj)
}

func TestResolve_RunSuiteOrdering(t *testing.T) {
	js := jobs("lint", "test", "build")
	js.HasRun, js.HasSuite, js.Suite = true, true, []string{"build", "test"}

	sel, err := suite.Resolve(js, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"build", "test"}, sel)
}

func TestResolve_RunSuiteValidated(t *testing.T) {
	js := jobs("lint")
	js.HasRun, js.HasSuite, js.Suite = true, true, []string{"lint", "ghost"}

	_, err := suite.Resolve(js, nil)

	var uj *suite.UnknownJobError
	require.ErrorAs(t, err, &uj)
	assert.Equal(t, "ghost", uj.Name)
}

func TestResolve_MissingSuiteKey(t *testing.T) {
	js := jobs("lint")
	js.HasRun = true

	_, err := suite.Resolve(js, nil)

	var ms *suite.MissingSuiteKeyError
	require.ErrorAs(t, err, &ms)
}

func TestResolve_DeclarationOrder(t *testing.T) {
	js := jobs("zeta", "alpha", "mid")

	sel, err := suite.Resolve(js, []string{})

	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, sel)
}

func TestResolve_DoesNotAliasInput(t *testing.T) {
	js := jobs("a", "b")
	explicit := []string{"a", "b"}

	sel, err := suite.Resolve(js, explicit)
	require.NoError(t, err)
	explicit[0] = "b"

	assert.Equal(t, []string{"a", "b"}, sel)
}
