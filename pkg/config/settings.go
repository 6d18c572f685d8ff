package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the operator-editable document persisted between runs.
// A missing or unreadable file falls back to defaults; the engine never
// requires it to exist.
type Settings struct {
	ConfidenceThreshold float64            `yaml:"confidenceThreshold"`
	AutoTradingEnabled  bool               `yaml:"autoTradingEnabled"`
	EnsembleWeights     map[string]float64 `yaml:"ensembleWeights"`
}

// DefaultSettings returns the hardcoded fallback.
func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold: 0.65,
		AutoTradingEnabled:  true,
		EnsembleWeights:     map[string]float64{},
	}
}

// LoadSettings reads the settings document, falling back to defaults when
// the file is absent.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}
	if s.ConfidenceThreshold <= 0 || s.ConfidenceThreshold >= 1 {
		s.ConfidenceThreshold = DefaultSettings().ConfidenceThreshold
	}
	if s.EnsembleWeights == nil {
		s.EnsembleWeights = map[string]float64{}
	}
	return s, nil
}

// SaveSettings writes the settings document back to disk.
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SettingsStore holds the live settings and writes every change back to the
// document, so operator edits survive a restart.
type SettingsStore struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// NewSettingsStore loads the document at path, falling back to defaults.
func NewSettingsStore(path string) (*SettingsStore, error) {
	s, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return &SettingsStore{path: path, current: s}, nil
}

// Get returns a copy of the current settings.
func (st *SettingsStore) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.current
	weights := make(map[string]float64, len(s.EnsembleWeights))
	for k, v := range s.EnsembleWeights {
		weights[k] = v
	}
	s.EnsembleWeights = weights
	return s
}

// Update applies fn to the current settings and persists the result.
func (st *SettingsStore) Update(fn func(Settings) Settings) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := fn(st.current)
	if next.ConfidenceThreshold <= 0 || next.ConfidenceThreshold >= 1 {
		return st.current, fmt.Errorf("confidence threshold %.2f out of range", next.ConfidenceThreshold)
	}
	if next.EnsembleWeights == nil {
		next.EnsembleWeights = map[string]float64{}
	}
	st.current = next
	if err := SaveSettings(st.path, next); err != nil {
		return next, fmt.Errorf("persist settings: %w", err)
	}
	return next, nil
}
