package suite

import (
	"detox/pkg/models"
)

// Resolve determines the ordered list of job names to execute.
//
// Explicit names take precedence and are returned verbatim, duplicates
// included. Otherwise `run.suite` defines the order, and without a `run`
// table every declared job runs in declaration order. Every name is checked
// against the suite before anything runs.
func Resolve(js *models.JobSuite, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		if err := validate(js, explicit); err != nil {
			return nil, err
		}
		return append([]string(nil), explicit...), nil
	}

	if js.HasRun {
		if !js.HasSuite {
			return nil, &MissingSuiteKeyError{}
		}
		if err := validate(js, js.Suite); err != nil {
			return nil, err
		}
		return append([]string(nil), js.Suite...), nil
	}

	return js.Names(), nil
}

func validate(js *models.JobSuite, names []string) error {
	for _, name := range names {
		if !js.Has(name) {
			return &UnknownJobError{Name: name}
		}
	}
	return nil
}
