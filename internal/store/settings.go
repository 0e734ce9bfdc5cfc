package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"dayplanner/internal/fsutil"
	"dayplanner/internal/model"
)

// SettingsFile is a SettingsStore kept in a YAML file. A missing file
// reads as model.DefaultNotificationSettings.
type SettingsFile struct {
	mu   sync.Mutex
	path string
}

func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

func (f *SettingsFile) Get(_ context.Context) (model.NotificationSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.DefaultNotificationSettings(), nil
	}
	if err != nil {
		return model.NotificationSettings{}, err
	}
	s := model.DefaultNotificationSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return model.NotificationSettings{}, fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	return s, nil
}

func (f *SettingsFile) Set(_ context.Context, s model.NotificationSettings) error {
	if s.MinutesBefore < 0 {
		return fmt.Errorf("store: minutes_before must not be negative, got %d", s.MinutesBefore)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(f.path, data, 0o600)
}
