package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fixture is a syllabus stored on disk for an enrollment.
type Fixture struct {
	EnrollmentID string `yaml:"enrollment_id"`
	Model        string `yaml:"generated_by_model"`
	Syllabus     `yaml:",inline"`
}

// Loader loads and caches syllabus fixtures from the filesystem.
type Loader struct {
	rootDir       string
	fixtures      map[string]Fixture
	teachingNotes map[string]string
	mu            sync.RWMutex
}

// NewLoader creates a new fixture loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:       rootDir,
		fixtures:      make(map[string]Fixture),
		teachingNotes: make(map[string]string),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading syllabus fixtures: %w", err)
	}

	slog.Info("syllabus fixtures loaded", "enrollments", len(l.fixtures))
	return l, nil
}

// Get returns the fixture for an enrollment.
func (l *Loader) Get(enrollmentID string) (Fixture, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.fixtures[enrollmentID]
	return f, ok
}

// TeachingNotes returns free-form notes stored next to an enrollment's fixture.
func (l *Loader) TeachingNotes(enrollmentID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.teachingNotes[enrollmentID]
	return n, ok
}

// Enrollments returns the ids of all loaded fixtures in sorted order.
func (l *Loader) Enrollments() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.fixtures))
	for id := range l.fixtures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, ".teaching.md"):
			return l.loadTeachingNotes(path)
		case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
			return l.loadFixture(path)
		}
		return nil
	})
}

func (l *Loader) loadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid syllabus YAML", "path", path, "error", err)
		return nil
	}

	if f.EnrollmentID == "" {
		return nil // Not a syllabus file
	}

	l.mu.Lock()
	l.fixtures[f.EnrollmentID] = f
	l.mu.Unlock()

	return nil
}

func (l *Loader) loadTeachingNotes(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Notes belong to the enrollment declared by the matching YAML file.
	yamlPath := strings.TrimSuffix(path, ".teaching.md") + ".yaml"
	yamlData, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil
	}

	var partial struct {
		EnrollmentID string `yaml:"enrollment_id"`
	}
	if err := yaml.Unmarshal(yamlData, &partial); err != nil || partial.EnrollmentID == "" {
		return nil
	}

	l.mu.Lock()
	l.teachingNotes[partial.EnrollmentID] = string(data)
	l.mu.Unlock()

	return nil
}
