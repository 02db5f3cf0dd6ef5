package settings

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileStore persists AppSettings as YAML
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

// Load reads the settings file. A missing file yields empty settings.
func (f *FileStore) Load() (AppSettings, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return AppSettings{}, nil
	}
	if err != nil {
		return AppSettings{}, errors.Wrap(err, "read settings")
	}
	var s AppSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return AppSettings{}, errors.Wrapf(err, "parse settings %s", f.path)
	}
	return s, nil
}

// Save writes the settings through a temp file and rename
func (f *FileStore) Save(s AppSettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create settings dir")
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write settings")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod settings")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close settings")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "replace settings")
}
