package curriculum_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

func TestLoader_LoadFixtures(t *testing.T) {
	dir := setupTestFixtures(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	ids := loader.Enrollments()
	if len(ids) != 2 {
		t.Fatalf("Enrollments() = %v, want 2 entries", ids)
	}
	if ids[0] != "1" || ids[1] != "2" {
		t.Errorf("Enrollments() = %v, want [1 2]", ids)
	}
}

func TestLoader_Get(t *testing.T) {
	dir := setupTestFixtures(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	f, found := loader.Get("1")
	if !found {
		t.Fatal("Get(1) not found")
	}
	if f.CourseName != "Linear Algebra" {
		t.Errorf("CourseName = %q, want Linear Algebra", f.CourseName)
	}
	if len(f.Modules) != 2 {
		t.Fatalf("Modules = %d, want 2", len(f.Modules))
	}
	if got := f.Modules[0].Topics[1].Name; got != "Matrices" {
		t.Errorf("Modules[0].Topics[1].Name = %q, want Matrices", got)
	}
	if f.Model != "planner-v2" {
		t.Errorf("Model = %q, want planner-v2", f.Model)
	}
}

func TestLoader_Get_NotFound(t *testing.T) {
	dir := setupTestFixtures(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if _, found := loader.Get("nonexistent"); found {
		t.Error("Get(nonexistent) should not be found")
	}
}

func TestLoader_TeachingNotes(t *testing.T) {
	dir := setupTestFixtures(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	notes, found := loader.TeachingNotes("1")
	if !found {
		t.Fatal("TeachingNotes(1) not found")
	}
	if notes == "" {
		t.Error("teaching notes are empty")
	}

	if _, found := loader.TeachingNotes("2"); found {
		t.Error("TeachingNotes(2) should not be found")
	}
}

func TestLoader_SkipsInvalidYAML(t *testing.T) {
	dir := setupTestFixtures(t)
	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("enrollment_id: [unterminated"), 0o644)
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("name: not a syllabus\n"), 0o644)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	if got := len(loader.Enrollments()); got != 2 {
		t.Errorf("Enrollments() count = %d, want 2", got)
	}
}

func TestLoader_MissingDir(t *testing.T) {
	_, err := curriculum.NewLoader(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("NewLoader() should fail for a missing directory")
	}
}

func setupTestFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	courses := filepath.Join(dir, "courses")
	if err := os.MkdirAll(courses, 0o755); err != nil {
		t.Fatal(err)
	}

	linear := `enrollment_id: "1"
generated_by_model: planner-v2
course_name: Linear Algebra
knowledge_level: basic
modules:
  - order: 1
    module_name: Foundations
    difficulty_level: beginner
    estimated_duration_minutes: 90
    topics:
      - order: 1
        topic_name: Vectors
      - order: 2
        topic_name: Matrices
  - order: 2
    module_name: Transformations
    topics:
      - order: 1
        topic_name: Linear maps
`
	stats := `enrollment_id: "2"
course_name: Statistics
knowledge_level: none
modules:
  - order: 1
    module_name: Descriptive statistics
    topics:
      - order: 1
        topic_name: Mean and median
`
	if err := os.WriteFile(filepath.Join(courses, "linear.yaml"), []byte(linear), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(courses, "linear.teaching.md"), []byte("# Notes\nStart from geometric intuition."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(courses, "stats.yml"), []byte(stats), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}
