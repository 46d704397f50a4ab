package command

import (
	"fmt"
	"strings"

	"detox/pkg/models"
)

// DefaultInstaller is the package-installer invocation used for dependencies.
const DefaultInstaller = "pip install"

// Chain joins shell fragments so that a failing fragment stops the rest.
const Chain = " && "

// MissingCommandsError is returned when a job declares nothing to run.
type MissingCommandsError struct {
	Job string
}

func (e *MissingCommandsError) Error() string {
	return fmt.Sprintf("'commands' in '%s' table cannot be empty or missing", e.Job)
}

// Builder turns job declarations into shell fragments.
type Builder struct {
	Installer string
}

// NewBuilder creates a builder. An empty installer falls back to DefaultInstaller.
func NewBuilder(installer string) *Builder {
	if installer == "" {
		installer = DefaultInstaller
	}
	return &Builder{Installer: installer}
}

// BuildInstall returns the install segment for spec, if it declares dependencies.
func (b *Builder) BuildInstall(spec models.JobSpec) (string, bool) {
	deps := spec.Dependencies
	if deps.Empty() {
		return "", false
	}
	if deps.List {
		return b.installer() + " " + strings.Join(deps.Items, " "), true
	}
	return b.installer() + " " + deps.Literal, true
}

// BuildRun returns the run segment for spec.
func (b *Builder) BuildRun(spec models.JobSpec) (string, error) {
	cmds := spec.Commands
	if cmds.Empty() {
		return "", &MissingCommandsError{Job: spec.Name}
	}
	if cmds.List {
		return strings.Join(cmds.Items, Chain), nil
	}
	return cmds.Literal, nil
}

// Compose assembles the full command line of a job.
// The install segment is left out entirely when hasInstall is false.
func Compose(activate, install string, hasInstall bool, run string) string {
	parts := make([]string, 0, 3)
	if activate != "" {
		parts = append(parts, activate)
	}
	if hasInstall {
		parts = append(parts, install)
	}
	parts = append(parts, run)
	return strings.Join(parts, Chain)
}

func (b *Builder) installer() string {
	if b.Installer == "" {
		return DefaultInstaller
	}
	return b.Installer
}
