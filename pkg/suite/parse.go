package suite

import (
	"fmt"

	"detox/pkg/models"
)

// RunKey names the table holding execution settings; it is never a job.
const RunKey = "run"

// Parse turns a loaded mapping into a job suite.
// Jobs without commands are accepted here; they fail when built.
func Parse(m *models.Mapping) (*models.JobSuite, error) {
	if m.Len() == 0 {
		return nil, &ConfigError{Reason: "config file declares nothing"}
	}

	js := &models.JobSuite{}
	for _, key := range m.Keys {
		raw, _ := m.Get(key)
		if key == RunKey {
			if err := parseRun(js, raw); err != nil {
				return nil, err
			}
			continue
		}

		table, ok := raw.(*models.Mapping)
		if !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("job '%s' must be a table", key)}
		}
		deps, err := field(table, key, "dependencies")
		if err != nil {
			return nil, err
		}
		cmds, err := field(table, key, "commands")
		if err != nil {
			return nil, err
		}
		js.Jobs = append(js.Jobs, models.JobSpec{Name: key, Dependencies: deps, Commands: cmds})
	}
	return js, nil
}

func parseRun(js *models.JobSuite, raw any) error {
	table, ok := raw.(*models.Mapping)
	if !ok {
		return &ConfigError{Reason: "'run' must be a table"}
	}
	js.HasRun = true

	v, ok := table.Get("suite")
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return &ConfigError{Reason: "'run.suite' must be a list of job names"}
	}
	names, err := stringList(list)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("'run.suite': %v", err)}
	}
	js.HasSuite = true
	js.Suite = names
	return nil
}

func field(table *models.Mapping, job, name string) (models.Value, error) {
	raw, ok := table.Get(name)
	if !ok || raw == nil {
		return models.Value{}, nil
	}
	switch v := raw.(type) {
	case string:
		return models.StringValue(v), nil
	case []any:
		items, err := stringList(v)
		if err != nil {
			return models.Value{}, &ConfigError{Reason: fmt.Sprintf("'%s.%s': %v", job, name, err)}
		}
		return models.ListValue(items...), nil
	default:
		return models.Value{}, &ConfigError{
			Reason: fmt.Sprintf("'%s.%s' must be a string or a list of strings", job, name),
		}
	}
}

func stringList(list []any) ([]string, error) {
	out := make([]string, len(list))
	for i, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
		out[i] = s
	}
	return out, nil
}
