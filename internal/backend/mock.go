package backend

import (
	"context"
	"slices"
	"sync"

	"github.com/p-n-ai/pai-learn/internal/progress"
)

// MockBackend is a test double for Backend. Zero-value fields produce empty
// successful responses.
type MockBackend struct {
	Syllabus    SyllabusResponse
	Content     progress.GeneratedContent
	Quiz        progress.GeneratedQuiz
	Evaluation  progress.QuizResult
	TaskID      string
	Statuses    []VideoStatus // returned in order; the last one repeats
	Resources   map[string][]progress.Resource
	Note        progress.Resource
	Remediation []progress.RemediationNote

	// Err is returned by every method when set. Errs overrides it per method name.
	Err  error
	Errs map[string]error

	// Before runs at the start of every call. A non-nil error is returned
	// instead of the canned response.
	Before func(ctx context.Context, method string) error

	mu       sync.Mutex
	calls    []string
	requests []any
	polls    int
}

// NewMockBackend creates a MockBackend serving syllabus for every enrollment.
func NewMockBackend(syllabus SyllabusResponse) *MockBackend {
	return &MockBackend{Syllabus: syllabus}
}

// Calls returns the method names invoked so far, in order.
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Requests returns the request values received so far, in order.
func (m *MockBackend) Requests() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

// CallCount returns how often method was invoked.
func (m *MockBackend) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *MockBackend) record(ctx context.Context, method string, req any) error {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.requests = append(m.requests, req)
	before := m.Before
	err := m.Err
	if e, ok := m.Errs[method]; ok {
		err = e
	}
	m.mu.Unlock()

	if before != nil {
		if berr := before(ctx, method); berr != nil {
			return berr
		}
	}
	return err
}

func (m *MockBackend) FetchSyllabus(ctx context.Context, enrollmentID string) (SyllabusResponse, error) {
	if err := m.record(ctx, "FetchSyllabus", enrollmentID); err != nil {
		return SyllabusResponse{}, err
	}
	resp := m.Syllabus
	if resp.EnrollmentID == "" {
		resp.EnrollmentID = enrollmentID
	}
	return resp, nil
}

func (m *MockBackend) GenerateContent(ctx context.Context, req GenerateContentRequest) (progress.GeneratedContent, error) {
	if err := m.record(ctx, "GenerateContent", req); err != nil {
		return progress.GeneratedContent{}, err
	}
	return m.Content, nil
}

func (m *MockBackend) GenerateQuiz(ctx context.Context, req GenerateQuizRequest) (progress.GeneratedQuiz, error) {
	if err := m.record(ctx, "GenerateQuiz", req); err != nil {
		return progress.GeneratedQuiz{}, err
	}
	return m.Quiz, nil
}

func (m *MockBackend) EvaluateQuiz(ctx context.Context, req EvaluateQuizRequest) (progress.QuizResult, error) {
	if err := m.record(ctx, "EvaluateQuiz", req); err != nil {
		return progress.QuizResult{}, err
	}
	return m.Evaluation, nil
}

func (m *MockBackend) GenerateVideo(ctx context.Context, req GenerateVideoRequest) (string, error) {
	if err := m.record(ctx, "GenerateVideo", req); err != nil {
		return "", err
	}
	return m.TaskID, nil
}

func (m *MockBackend) VideoStatus(ctx context.Context, taskID string) (VideoStatus, error) {
	if err := m.record(ctx, "VideoStatus", taskID); err != nil {
		return VideoStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Statuses) == 0 {
		return VideoStatus{Status: progress.VideoPending}, nil
	}
	i := min(m.polls, len(m.Statuses)-1)
	m.polls++
	return m.Statuses[i], nil
}

func (m *MockBackend) ListResources(ctx context.Context, lessonID string) ([]progress.Resource, error) {
	if err := m.record(ctx, "ListResources", lessonID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Resources[lessonID]), nil
}

func (m *MockBackend) CreateNote(ctx context.Context, req CreateNoteRequest) (progress.Resource, error) {
	if err := m.record(ctx, "CreateNote", req); err != nil {
		return progress.Resource{}, err
	}
	res := m.Note
	if res.LessonID == "" {
		res.LessonID = req.LessonID
	}
	if res.Title == "" {
		res.Title = req.Title
	}
	return res, nil
}

func (m *MockBackend) GenerateRemediation(ctx context.Context, req RemediationRequest) ([]progress.RemediationNote, error) {
	if err := m.record(ctx, "GenerateRemediation", req); err != nil {
		return nil, err
	}
	return m.Remediation, nil
}
