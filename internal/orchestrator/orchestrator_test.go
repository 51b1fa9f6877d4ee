package orchestrator_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/backend"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/orchestrator"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

var (
	topicA = curriculum.NewTopicKey("1", 0, 0)
	topicB = curriculum.NewTopicKey("1", 0, 1)
)

func testSyllabus() backend.SyllabusResponse {
	return backend.SyllabusResponse{
		EnrollmentID: "1",
		CourseName:   "Linear Algebra",
		Syllabus: curriculum.Syllabus{
			CourseName: "Linear Algebra",
			Modules: []curriculum.Module{
				{Name: "Vectors", Topics: []curriculum.Topic{{Name: "Addition"}, {Name: "Dot product"}}},
				{Name: "Matrices", Topics: []curriculum.Topic{{Name: "Multiplication"}}},
			},
		},
	}
}

type fixture struct {
	mock   *backend.MockBackend
	store  *progress.Store
	events *orchestrator.MemoryEventLogger
	orch   *orchestrator.Orchestrator
}

func setup(t *testing.T, cfg orchestrator.Config) *fixture {
	t.Helper()
	mock := backend.NewMockBackend(testSyllabus())
	mock.Content = progress.GeneratedContent{LessonID: "l1", Content: "# Addition"}
	f := &fixture{
		mock:   mock,
		store:  progress.NewStore(progress.NewState()),
		events: orchestrator.NewMemoryEventLogger(),
	}
	cfg.Backend = mock
	cfg.Store = f.store
	cfg.Events = f.events
	f.orch = orchestrator.New(cfg)
	t.Cleanup(f.orch.Close)

	if err := f.orch.FetchSyllabus("1"); err != nil {
		t.Fatalf("FetchSyllabus() error = %v", err)
	}
	f.orch.Wait()
	if f.store.State().Syllabus == nil {
		t.Fatal("syllabus not loaded")
	}
	return f
}

func (f *fixture) withContent(t *testing.T, key curriculum.TopicKey) {
	t.Helper()
	if err := f.orch.GenerateContent(key, false); err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	f.orch.Wait()
}

func (f *fixture) withQuiz(t *testing.T, key curriculum.TopicKey) {
	t.Helper()
	f.withContent(t, key)
	f.mock.Quiz = progress.GeneratedQuiz{Questions: []progress.Question{
		{ID: "q1", Options: []string{"a", "b", "c"}},
		{ID: "q2", Options: []string{"a", "b", "c"}},
	}}
	if err := f.orch.GenerateQuiz(key); err != nil {
		t.Fatalf("GenerateQuiz() error = %v", err)
	}
	f.orch.Wait()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGenerateContent(t *testing.T) {
	f := setup(t, orchestrator.Config{})

	if err := f.orch.GenerateContent(topicA, false); err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	f.orch.Wait()

	s := f.store.State()
	if s.Content[topicA].LessonID != "l1" {
		t.Errorf("content = %+v", s.Content[topicA])
	}
	if s.Loading(progress.OpGenerateContent, topicA) {
		t.Error("still loading after completion")
	}

	req := f.mock.Requests()[1].(backend.GenerateContentRequest)
	if req.TopicName != "Addition" || req.EnrollmentID != "1" || req.ModuleID != 0 || req.TopicIndex != 0 {
		t.Errorf("request = %+v", req)
	}

	events := f.events.Events()
	if len(events) != 2 || events[1].EventType != orchestrator.EventGenerationSucceeded {
		t.Fatalf("events = %+v", events)
	}
	if events[1].TopicKey != topicA.String() || events[1].Data["operation"] != "generate_content" {
		t.Errorf("event = %+v", events[1])
	}
	if events[0].TopicKey != "" {
		t.Errorf("syllabus event should not carry a topic key: %q", events[0].TopicKey)
	}
}

func TestGenerateContent_NotInSyllabus(t *testing.T) {
	f := setup(t, orchestrator.Config{})

	for _, key := range []curriculum.TopicKey{
		curriculum.NewTopicKey("1", 5, 0),
		curriculum.NewTopicKey("1", 0, 9),
		curriculum.NewTopicKey("2", 0, 0),
	} {
		if err := f.orch.GenerateContent(key, false); !errors.Is(err, orchestrator.ErrMissingPrerequisite) {
			t.Errorf("GenerateContent(%s) error = %v, want ErrMissingPrerequisite", key, err)
		}
	}
	if n := f.mock.CallCount("GenerateContent"); n != 0 {
		t.Errorf("backend called %d times", n)
	}
}

func TestPrerequisitesRefusedLocally(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	before := len(f.mock.Calls())

	tests := []struct {
		name string
		call func() error
	}{
		{"quiz without content", func() error { return f.orch.GenerateQuiz(topicA) }},
		{"evaluate without quiz", func() error { return f.orch.EvaluateQuiz(topicA, []int{0}) }},
		{"remediation without content", func() error { return f.orch.GenerateRemediation(topicA, []string{"x"}) }},
		{"note without content", func() error { return f.orch.CreateNote(topicA, "title", "") }},
		{"resources without content", func() error { return f.orch.FetchResources(topicA) }},
		{"empty enrollment", func() error { return f.orch.FetchSyllabus("") }},
		{"poll without task", func() error { _, err := f.orch.PollVideo(t.Context(), topicA); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, orchestrator.ErrMissingPrerequisite) {
				t.Errorf("error = %v, want ErrMissingPrerequisite", err)
			}
		})
	}

	if got := len(f.mock.Calls()); got != before {
		t.Errorf("backend calls = %d, want %d", got, before)
	}
	if len(f.store.State().InFlight) != 0 {
		t.Error("refused operations must not dispatch")
	}
}

func TestFailureStoredPerTopic(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.withContent(t, topicB)

	f.mock.Errs = map[string]error{
		"GenerateContent": &backend.APIError{Status: http.StatusInternalServerError, Message: "model offline"},
	}
	if err := f.orch.GenerateContent(topicA, false); err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	f.orch.Wait()

	s := f.store.State()
	if got := s.Error(progress.OpGenerateContent, topicA); got != "model offline" {
		t.Errorf("Error() = %q, want model offline", got)
	}
	if s.Loading(progress.OpGenerateContent, topicA) {
		t.Error("failure should clear loading")
	}
	if s.Error(progress.OpGenerateContent, topicB) != "" || s.Content[topicB].LessonID != "l1" {
		t.Error("failure leaked into another topic")
	}

	events := f.events.Events()
	last := events[len(events)-1]
	if last.EventType != orchestrator.EventGenerationFailed || last.Data["error"] != "model offline" {
		t.Errorf("last event = %+v", last)
	}
}

func TestSupersedeDiscardsOlderCompletion(t *testing.T) {
	f := setup(t, orchestrator.Config{Policy: orchestrator.Supersede})

	release := make(chan struct{})
	var calls atomic.Int32
	f.mock.Before = func(ctx context.Context, method string) error {
		if method != "GenerateContent" {
			return nil
		}
		if calls.Add(1) == 1 {
			<-release
			return errors.New("first request finished late")
		}
		return nil
	}

	if err := f.orch.GenerateContent(topicA, false); err != nil {
		t.Fatalf("first GenerateContent() error = %v", err)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
	if err := f.orch.GenerateContent(topicA, true); err != nil {
		t.Fatalf("second GenerateContent() error = %v", err)
	}
	waitFor(t, func() bool { return f.store.State().Content[topicA].LessonID == "l1" })

	close(release)
	f.orch.Wait()

	s := f.store.State()
	if got := s.Error(progress.OpGenerateContent, topicA); got != "" {
		t.Errorf("stale failure was applied: %q", got)
	}
	if s.Content[topicA].LessonID != "l1" {
		t.Error("latest content lost")
	}
}

func TestRejectOverlap(t *testing.T) {
	f := setup(t, orchestrator.Config{Policy: orchestrator.Reject})

	release := make(chan struct{})
	f.mock.Before = func(ctx context.Context, method string) error {
		if method == "GenerateContent" {
			<-release
		}
		return nil
	}

	if err := f.orch.GenerateContent(topicA, false); err != nil {
		t.Fatalf("first GenerateContent() error = %v", err)
	}
	if err := f.orch.GenerateContent(topicA, true); !errors.Is(err, orchestrator.ErrInFlight) {
		t.Errorf("second GenerateContent() error = %v, want ErrInFlight", err)
	}
	if err := f.orch.GenerateContent(topicB, false); err != nil {
		t.Errorf("other topic should not be blocked: %v", err)
	}

	close(release)
	f.orch.Wait()
	if n := f.mock.CallCount("GenerateContent"); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestRequestTimeout(t *testing.T) {
	f := setup(t, orchestrator.Config{RequestTimeout: 50 * time.Millisecond})
	f.mock.Before = func(ctx context.Context, method string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	if err := f.orch.GenerateContent(topicA, false); err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	f.orch.Wait()

	s := f.store.State()
	if s.Loading(progress.OpGenerateContent, topicA) {
		t.Error("timed out call should clear loading")
	}
	if got := s.Error(progress.OpGenerateContent, topicA); got != context.DeadlineExceeded.Error() {
		t.Errorf("Error() = %q", got)
	}
}

func TestEvaluateQuiz(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.withQuiz(t, topicA)

	for _, answers := range [][]int{{0}, {0, 3}, {-1, 0}} {
		if err := f.orch.EvaluateQuiz(topicA, answers); !errors.Is(err, orchestrator.ErrMissingPrerequisite) {
			t.Errorf("EvaluateQuiz(%v) error = %v, want ErrMissingPrerequisite", answers, err)
		}
	}

	f.mock.Evaluation = progress.QuizResult{ScorePercent: 85, CorrectCount: 2, TotalQuestions: 2}
	if err := f.orch.EvaluateQuiz(topicA, []int{0, 2}); err != nil {
		t.Fatalf("EvaluateQuiz() error = %v", err)
	}
	f.orch.Wait()

	s := f.store.State()
	if s.QuizResults[topicA].ScorePercent != 85 {
		t.Errorf("result = %+v", s.QuizResults[topicA])
	}
	if !s.Completed[topicA] {
		t.Error("passing evaluation should mark completion")
	}

	calls := f.mock.Requests()
	req := calls[len(calls)-1].(backend.EvaluateQuizRequest)
	if req.LessonID != "l1" || len(req.QuestionIDs) != 2 || req.QuestionIDs[1] != "q2" || req.Answers[1] != 2 {
		t.Errorf("request = %+v", req)
	}
}

func TestEvaluateQuiz_BelowThreshold(t *testing.T) {
	f := setup(t, orchestrator.Config{Gate: progress.Gate{PassPercent: 90}})
	f.withQuiz(t, topicA)

	f.mock.Evaluation = progress.QuizResult{ScorePercent: 85}
	if err := f.orch.EvaluateQuiz(topicA, []int{0, 0}); err != nil {
		t.Fatalf("EvaluateQuiz() error = %v", err)
	}
	f.orch.Wait()

	if f.store.State().Completed[topicA] {
		t.Error("result below the configured threshold must not mark completion")
	}
}

func TestGenerateRemediation_UsesStoredWeakAreas(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.withContent(t, topicA)

	if err := f.orch.GenerateRemediation(topicA, nil); !errors.Is(err, orchestrator.ErrMissingPrerequisite) {
		t.Fatalf("error = %v, want ErrMissingPrerequisite without weak areas", err)
	}

	f.withQuiz(t, topicA)
	f.mock.Evaluation = progress.QuizResult{ScorePercent: 50, WeakAreas: []string{"Commutativity"}}
	if err := f.orch.EvaluateQuiz(topicA, []int{1, 1}); err != nil {
		t.Fatalf("EvaluateQuiz() error = %v", err)
	}
	f.orch.Wait()

	f.mock.Remediation = []progress.RemediationNote{{SubTopic: "Commutativity", Content: "a+b = b+a"}}
	if err := f.orch.GenerateRemediation(topicA, nil); err != nil {
		t.Fatalf("GenerateRemediation() error = %v", err)
	}
	f.orch.Wait()

	calls := f.mock.Requests()
	req := calls[len(calls)-1].(backend.RemediationRequest)
	if len(req.WeakAreas) != 1 || req.WeakAreas[0] != "Commutativity" || req.TopicName != "Addition" {
		t.Errorf("request = %+v", req)
	}
	if got := f.store.State().Remediation[topicA]; len(got) != 1 {
		t.Errorf("remediation = %+v", got)
	}
}

func TestGenerateVideo_WithoutContent(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.mock.TaskID = "t1"

	if err := f.orch.GenerateVideo(topicA); err != nil {
		t.Fatalf("GenerateVideo() error = %v", err)
	}
	f.orch.Wait()

	calls := f.mock.Requests()
	req := calls[len(calls)-1].(backend.GenerateVideoRequest)
	if req.Topic != "Addition" || req.LessonID != "" {
		t.Errorf("request = %+v", req)
	}
	if got := f.store.State().Videos[topicA]; got.TaskID != "t1" || got.Status != progress.VideoPending {
		t.Errorf("video = %+v", got)
	}
}

func TestPollVideo(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	key := curriculum.NewTopicKey("1", 0, 0)
	f.mock.TaskID = "t1"
	f.mock.Statuses = []backend.VideoStatus{
		{Status: progress.VideoProcessing},
		{Status: progress.VideoCompleted, VideoURL: "/media/v1.mp4"},
	}

	if err := f.orch.GenerateVideo(key); err != nil {
		t.Fatalf("GenerateVideo() error = %v", err)
	}
	f.orch.Wait()

	task, err := f.orch.PollVideo(t.Context(), key)
	if err != nil || task.Status != progress.VideoProcessing {
		t.Fatalf("first poll = %+v, %v", task, err)
	}
	task, err = f.orch.PollVideo(t.Context(), key)
	if err != nil {
		t.Fatalf("second poll error = %v", err)
	}
	want := progress.VideoTask{TaskID: "t1", Status: progress.VideoCompleted, VideoURL: "/media/v1.mp4"}
	if task != want {
		t.Errorf("task = %+v, want %+v", task, want)
	}

	polls := f.mock.CallCount("VideoStatus")
	if _, err := f.orch.PollVideo(t.Context(), key); err != nil {
		t.Fatalf("poll after terminal error = %v", err)
	}
	if f.mock.CallCount("VideoStatus") != polls {
		t.Error("terminal task should not be polled again")
	}
}

func TestCreateNote(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.withContent(t, topicA)

	if err := f.orch.CreateNote(topicA, "   ", "body"); !errors.Is(err, orchestrator.ErrMissingPrerequisite) {
		t.Errorf("empty title error = %v", err)
	}

	f.mock.Note = progress.Resource{ID: "n1", Type: progress.ResourceNotes}
	if err := f.orch.CreateNote(topicA, "Summary", "body"); err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	f.orch.Wait()

	resources := f.store.State().Resources["l1"]
	if len(resources) != 1 || resources[0].ID != "n1" || resources[0].Title != "Summary" {
		t.Errorf("resources = %+v", resources)
	}
}

func TestFetchResources(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.withContent(t, topicA)
	f.mock.Resources = map[string][]progress.Resource{
		"l1": {{ID: "r1", Type: progress.ResourceAudio}},
	}

	if err := f.orch.FetchResources(topicA); err != nil {
		t.Fatalf("FetchResources() error = %v", err)
	}
	f.orch.Wait()

	if got := f.store.State().LessonResources(topicA); len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("resources = %+v", got)
	}
}

func TestClose(t *testing.T) {
	f := setup(t, orchestrator.Config{})
	f.mock.Before = func(ctx context.Context, method string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.orch.GenerateContent(topicA, false); err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}

	f.orch.Close()

	s := f.store.State()
	if s.Loading(progress.OpGenerateContent, topicA) {
		t.Error("Close should settle outstanding calls")
	}
	if got := s.Error(progress.OpGenerateContent, topicA); got != "" {
		t.Errorf("cancelled call recorded error %q", got)
	}
	if err := f.orch.GenerateContent(topicA, false); !errors.Is(err, orchestrator.ErrClosed) {
		t.Errorf("error after close = %v, want ErrClosed", err)
	}
}

func TestParseOverlapPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    orchestrator.OverlapPolicy
		wantErr bool
	}{
		{"", orchestrator.Supersede, false},
		{"supersede", orchestrator.Supersede, false},
		{"Reject", orchestrator.Reject, false},
		{"queue", orchestrator.Supersede, true},
	}
	for _, tt := range tests {
		got, err := orchestrator.ParseOverlapPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOverlapPolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
