package suite

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"detox/pkg/models"
)

// ConfigName is the base name probed for in the working directory.
const ConfigName = "detox"

// Candidates lists the probed config file names, in priority order.
var Candidates = []string{
	ConfigName + ".toml",
	ConfigName + ".json",
	ConfigName + ".yaml",
	ConfigName + ".yml",
	ConfigName + ".hcl",
}

// Loader decodes one structured format into a generic ordered mapping.
type Loader interface {
	Load(data []byte) (*models.Mapping, error)
}

var loaders = map[string]Loader{
	".toml": tomlLoader{},
	".json": jsonLoader{},
	".yaml": yamlLoader{},
	".yml":  yamlLoader{},
	".hcl":  hclLoader{},
}

// LoaderFor picks the loader matching the extension of path.
func LoaderFor(path string) (Loader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	l, ok := loaders[ext]
	if !ok {
		return nil, &ConfigError{Path: path, Reason: "invalid config file format"}
	}
	return l, nil
}

// Discover returns the first candidate config file that exists in dir.
func Discover(dir string) (string, error) {
	for _, name := range Candidates {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", &ConfigError{Path: path, Reason: "cannot stat config file", Err: err}
		}
		if info.IsDir() {
			continue
		}
		return path, nil
	}
	return "", &ConfigError{Path: dir, Reason: "config file not found"}
}

// Load reads path and decodes it with the loader for its extension.
func Load(path string) (*models.Mapping, error) {
	loader, err := LoaderFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "cannot read config file", Err: err}
	}
	if len(data) == 0 {
		return nil, &ConfigError{Path: path, Reason: "empty config file"}
	}
	m, err := loader.Load(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "cannot parse config file", Err: err}
	}
	if m.Len() == 0 {
		return nil, &ConfigError{Path: path, Reason: "config file declares nothing"}
	}
	return m, nil
}

// Store locates, loads and parses the job suite of a working directory.
type Store struct {
	dir  string
	path string
}

// NewStore creates a store for dir. A non-empty path bypasses discovery.
func NewStore(dir, path string) *Store {
	return &Store{dir: dir, path: path}
}

// Load returns the parsed suite and the file it came from.
func (s *Store) Load(ctx context.Context) (*models.JobSuite, string, error) {
	path := s.path
	if path == "" {
		var err error
		if path, err = Discover(s.dir); err != nil {
			return nil, "", err
		}
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}

	m, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	js, err := Parse(m)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = path
		}
		return nil, path, err
	}
	return js, path, nil
}
