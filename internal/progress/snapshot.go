package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

// ErrSnapshotNotFound is returned when no snapshot exists for an enrollment.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the durable part of a State. In-flight flags, errors and active
// views are session-local and never persisted.
type Snapshot struct {
	EnrollmentID string                                    `json:"enrollment_id"`
	CourseName   string                                    `json:"course_name"`
	Syllabus     *curriculum.Syllabus                      `json:"syllabus,omitempty"`
	Completed    map[curriculum.TopicKey]bool              `json:"completed"`
	Content      map[curriculum.TopicKey]GeneratedContent  `json:"content"`
	Quizzes      map[curriculum.TopicKey]GeneratedQuiz     `json:"quizzes"`
	QuizResults  map[curriculum.TopicKey]QuizResult        `json:"quiz_results"`
	Videos       map[curriculum.TopicKey]VideoTask         `json:"videos"`
	Remediation  map[curriculum.TopicKey][]RemediationNote `json:"remediation"`
	Resources    map[string][]Resource                     `json:"resources"`
	SavedAt      time.Time                                 `json:"saved_at"`
}

// SnapshotOf captures the durable part of s.
func SnapshotOf(s State) Snapshot {
	return Snapshot{
		EnrollmentID: s.EnrollmentID,
		CourseName:   s.CourseName,
		Syllabus:     s.Syllabus,
		Completed:    s.Completed,
		Content:      s.Content,
		Quizzes:      s.Quizzes,
		QuizResults:  s.QuizResults,
		Videos:       s.Videos,
		Remediation:  s.Remediation,
		Resources:    s.Resources,
		SavedAt:      time.Now(),
	}
}

// State rebuilds a State from the snapshot.
func (sn Snapshot) State() State {
	s := NewState()
	s.EnrollmentID = sn.EnrollmentID
	s.CourseName = sn.CourseName
	s.Syllabus = sn.Syllabus
	if sn.Completed != nil {
		s.Completed = sn.Completed
	}
	if sn.Content != nil {
		s.Content = sn.Content
	}
	if sn.Quizzes != nil {
		s.Quizzes = sn.Quizzes
	}
	if sn.QuizResults != nil {
		s.QuizResults = sn.QuizResults
	}
	if sn.Videos != nil {
		s.Videos = sn.Videos
	}
	if sn.Remediation != nil {
		s.Remediation = sn.Remediation
	}
	if sn.Resources != nil {
		s.Resources = sn.Resources
	}
	return s
}

// SnapshotStore persists snapshots per enrollment.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, enrollmentID string) (Snapshot, error)
	Delete(ctx context.Context, enrollmentID string) error
}

// MemorySnapshotStore is an in-memory implementation of SnapshotStore.
type MemorySnapshotStore struct {
	snapshots map[string]Snapshot
	mu        sync.RWMutex
}

// NewMemorySnapshotStore creates a new in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		snapshots: make(map[string]Snapshot),
	}
}

func (m *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	if snap.EnrollmentID == "" {
		return fmt.Errorf("enrollment_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.EnrollmentID] = snap
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context, enrollmentID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[enrollmentID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, enrollmentID)
	}
	return snap, nil
}

func (m *MemorySnapshotStore) Delete(_ context.Context, enrollmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, enrollmentID)
	return nil
}
