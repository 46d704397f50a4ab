package command_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "detox/pkg/command"
	"detox/pkg/models"
)

func TestBuildInstall(t *testing.T) {
	b := NewBuilder("")

	tests := []struct {
		name   string
		deps   models.Value
		want   string
		wantOK bool
	}{
		{"list", models.ListValue("a", "b"), "pip install a b", true},
		{"string", models.StringValue("a"), "pip install a", true},
		{"string kept verbatim", models.StringValue("-r requirements.txt"), "pip install -r requirements.txt", true},
		{"absent", models.Value{}, "", false},
		{"empty list", models.ListValue(), "", false},
		{"empty string", models.StringValue(""), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := b.BuildInstall(models.JobSpec{Name: "job", Dependencies: tt.deps})
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildInstall_CustomInstaller(t *testing.T) {
	b := NewBuilder("uv pip install")

	got, ok := b.BuildInstall(models.JobSpec{Dependencies: models.ListValue("ruff")})

	assert.True(t, ok)
	assert.Equal(t, "uv pip install ruff", got)
}

func TestBuildRun(t *testing.T) {
	b := NewBuilder("")

	got, err := b.BuildRun(models.JobSpec{Name: "j", Commands: models.ListValue("x", "y")})
	require.NoError(t, err)
	assert.Equal(t, "x && y", got)

	got, err = b.BuildRun(models.JobSpec{Name: "j", Commands: models.StringValue("x; y")})
	require.NoError(t, err)
	assert.Equal(t, "x; y", got)
}

func TestBuildRun_MissingCommands(t *testing.T) {
	b := NewBuilder("")

	for _, cmds := range []models.Value{{}, models.ListValue(), models.StringValue("")} {
		_, err := b.BuildRun(models.JobSpec{Name: "b", Commands: cmds})

		var mc *MissingCommandsError
		require.True(t, errors.As(err, &mc))
		assert.Equal(t, "b", mc.Job)
	}
}

func TestCompose(t *testing.T) {
	assert.Equal(t,
		"source .env/bin/activate && pip install a && pytest",
		Compose("source .env/bin/activate", "pip install a", true, "pytest"))

	assert.Equal(t,
		"source .env/bin/activate && pytest",
		Compose("source .env/bin/activate", "", false, "pytest"))
}
