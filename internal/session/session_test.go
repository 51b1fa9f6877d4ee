package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/backend"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/session"
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

func newConfig(mock *backend.MockBackend, snaps progress.SnapshotStore) session.Config {
	return session.Config{
		Backend:        mock,
		Snapshots:      snaps,
		RequestTimeout: time.Second,
		PollInterval:   10 * time.Millisecond,
		PollMaxErrors:  3,
	}
}

func open(t *testing.T, cfg session.Config) *session.Session {
	t.Helper()
	s, err := session.Open(t.Context(), cfg, "1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
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

func TestOpen_FetchesSyllabusAndSaves(t *testing.T) {
	mock := backend.NewMockBackend(testSyllabus())
	snaps := progress.NewMemorySnapshotStore()
	s := open(t, newConfig(mock, snaps))

	if s.State().CourseName != "Linear Algebra" {
		t.Errorf("CourseName = %q", s.State().CourseName)
	}
	if got := len(s.Outline().Modules); got != 2 {
		t.Errorf("outline modules = %d, want 2", got)
	}

	waitFor(t, func() bool {
		_, err := snaps.Load(context.Background(), "1")
		return err == nil
	})
}

func TestOpen_FailsWithoutSyllabus(t *testing.T) {
	mock := backend.NewMockBackend(testSyllabus())
	mock.Errs = map[string]error{"FetchSyllabus": &backend.APIError{Status: 404, Message: "enrollment not found"}}

	_, err := session.Open(t.Context(), newConfig(mock, nil), "1")
	if err == nil {
		t.Fatal("Open() should fail when no syllabus is available")
	}
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Errorf("error = %v, want wrapped APIError 404", err)
	}
}

func snapshotWithContent() progress.Snapshot {
	resp := testSyllabus()
	st := progress.NewState()
	st.EnrollmentID = "1"
	st.CourseName = resp.CourseName
	st.Syllabus = &resp.Syllabus
	st.Content = map[curriculum.TopicKey]progress.GeneratedContent{
		topicA: {LessonID: "l1", Content: "# Addition"},
	}
	st.Completed = map[curriculum.TopicKey]bool{topicA: true}
	return progress.SnapshotOf(st)
}

func TestOpen_RestoresSnapshotWhenBackendFails(t *testing.T) {
	snaps := progress.NewMemorySnapshotStore()
	if err := snaps.Save(t.Context(), snapshotWithContent()); err != nil {
		t.Fatal(err)
	}
	mock := backend.NewMockBackend(testSyllabus())
	mock.Errs = map[string]error{"FetchSyllabus": errors.New("connection refused")}

	s := open(t, newConfig(mock, snaps))

	st := s.State()
	if st.Syllabus == nil || !st.Completed[topicA] {
		t.Fatalf("snapshot not restored: %+v", st)
	}
	if st.Error(progress.OpFetchSyllabus, curriculum.EnrollmentKey("1")) == "" {
		t.Error("failed refresh should be recorded")
	}
}

func TestOpen_LoadsResourcesOfRestoredLessons(t *testing.T) {
	snaps := progress.NewMemorySnapshotStore()
	if err := snaps.Save(t.Context(), snapshotWithContent()); err != nil {
		t.Fatal(err)
	}
	mock := backend.NewMockBackend(testSyllabus())
	mock.Resources = map[string][]progress.Resource{
		"l1": {{ID: "r1", Type: progress.ResourceNotes, Title: "Summary"}},
	}

	s := open(t, newConfig(mock, snaps))

	if got := s.State().LessonResources(topicA); len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("resources = %+v", got)
	}
}

func TestSession_ContentTriggersResourceFetch(t *testing.T) {
	mock := backend.NewMockBackend(testSyllabus())
	mock.Content = progress.GeneratedContent{LessonID: "l1", Content: "# Addition"}
	mock.Resources = map[string][]progress.Resource{
		"l1": {{ID: "r1", Type: progress.ResourceAudio}},
	}
	s := open(t, newConfig(mock, nil))

	if err := s.Orchestrator().GenerateContent(topicA, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(s.State().LessonResources(topicA)) == 1 })
}

func TestSession_VideoWatchedOnlyForCurrentTopic(t *testing.T) {
	mock := backend.NewMockBackend(testSyllabus())
	mock.Content = progress.GeneratedContent{LessonID: "l1"}
	mock.TaskID = "t1"
	mock.Statuses = []backend.VideoStatus{
		{Status: progress.VideoProcessing},
		{Status: progress.VideoCompleted, VideoURL: "/media/v1.mp4"},
	}
	mock.Resources = map[string][]progress.Resource{
		"l1": {{ID: "v1", Type: progress.ResourceVideo, FileURL: "/media/v1.mp4"}},
	}
	s := open(t, newConfig(mock, nil))

	if err := s.Navigate(topicA); err != nil {
		t.Fatal(err)
	}
	orch := s.Orchestrator()
	if err := orch.GenerateContent(topicA, false); err != nil {
		t.Fatal(err)
	}
	orch.Wait()
	waitFor(t, func() bool { return mock.CallCount("ListResources") == 1 })

	if err := orch.GenerateVideo(topicA); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return s.State().Videos[topicA].Status == progress.VideoCompleted })
	// A finished video refreshes the lesson's resource list.
	waitFor(t, func() bool { return mock.CallCount("ListResources") == 2 })
	waitFor(t, func() bool { return len(s.State().LessonResources(topicA)) == 1 })
	if s.Watching(topicA) {
		t.Error("watcher should stop after completion")
	}

	if err := s.ShowResource(topicA, "v1"); err != nil {
		t.Fatalf("ShowResource() error = %v", err)
	}
	p := s.Present(topicA)
	if p.View.Type != progress.ViewVideo || p.Resource == nil || p.Resource.FileURL != "/media/v1.mp4" {
		t.Errorf("presentation = %+v", p)
	}
}

func TestSession_NavigateResumesAndStopsWatcher(t *testing.T) {
	snap := snapshotWithContent()
	snap.Videos = map[curriculum.TopicKey]progress.VideoTask{
		topicA: {TaskID: "t1", Status: progress.VideoProcessing},
	}
	snaps := progress.NewMemorySnapshotStore()
	if err := snaps.Save(t.Context(), snap); err != nil {
		t.Fatal(err)
	}

	mock := backend.NewMockBackend(testSyllabus())
	mock.Statuses = []backend.VideoStatus{{Status: progress.VideoProcessing}}
	s := open(t, newConfig(mock, snaps))

	if s.Watching(topicA) {
		t.Fatal("watcher started before navigation")
	}
	if err := s.Navigate(topicA); err != nil {
		t.Fatal(err)
	}
	if !s.Watching(topicA) {
		t.Fatal("Navigate() should resume polling the stored task")
	}
	waitFor(t, func() bool { return mock.CallCount("VideoStatus") >= 2 })

	if err := s.Navigate(topicB); err != nil {
		t.Fatal(err)
	}
	if s.Watching(topicA) {
		t.Error("navigating away should stop the watcher")
	}
	if got := s.State().Videos[topicA]; got.TaskID != "t1" {
		t.Errorf("stopping the watcher changed the task: %+v", got)
	}
	if msg := s.State().Error(progress.OpPollVideo, topicA); msg != "" {
		t.Errorf("stopping the watcher recorded an error: %q", msg)
	}
}

func TestSession_RejectsUnknownTopicAndResource(t *testing.T) {
	s := open(t, newConfig(backend.NewMockBackend(testSyllabus()), nil))

	if err := s.Navigate(curriculum.NewTopicKey("1", 5, 0)); !errors.Is(err, session.ErrUnknownTopic) {
		t.Errorf("Navigate() error = %v, want ErrUnknownTopic", err)
	}
	if err := s.ToggleCompletion(curriculum.NewTopicKey("2", 0, 0)); !errors.Is(err, session.ErrUnknownTopic) {
		t.Errorf("ToggleCompletion() other enrollment error = %v, want ErrUnknownTopic", err)
	}
	if err := s.ShowResource(topicA, "missing"); !errors.Is(err, session.ErrUnknownResource) {
		t.Errorf("ShowResource() error = %v, want ErrUnknownResource", err)
	}
}

func TestSession_ToggleAndViews(t *testing.T) {
	s := open(t, newConfig(backend.NewMockBackend(testSyllabus()), nil))

	if err := s.ToggleCompletion(topicB); err != nil {
		t.Fatal(err)
	}
	if !s.State().Completed[topicB] {
		t.Error("topic not completed after toggle")
	}

	if err := s.ShowCreateNote(topicB); err != nil {
		t.Fatal(err)
	}
	if got := s.Present(topicB).View.Type; got != progress.ViewCreateNote {
		t.Errorf("view = %q, want create-note", got)
	}
	if err := s.ShowReading(topicB); err != nil {
		t.Fatal(err)
	}
	if got := s.Present(topicB).View.Type; got != progress.ViewReading {
		t.Errorf("view = %q, want reading", got)
	}
}

func TestSession_ResetDropsSnapshot(t *testing.T) {
	snaps := progress.NewMemorySnapshotStore()
	if err := snaps.Save(t.Context(), snapshotWithContent()); err != nil {
		t.Fatal(err)
	}
	mock := backend.NewMockBackend(testSyllabus())
	s := open(t, newConfig(mock, snaps))

	if err := s.Reset(t.Context()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	s.Orchestrator().Wait()

	st := s.State()
	if st.Completed[topicA] || len(st.Content) != 0 {
		t.Errorf("progress survived reset: %+v", st)
	}
	if st.Syllabus == nil {
		t.Error("syllabus not fetched again after reset")
	}
}

// heldSnapshots blocks the next Save once hold is set, until release closes.
type heldSnapshots struct {
	progress.SnapshotStore
	hold    atomic.Bool
	started chan struct{}
	release chan struct{}
}

func (h *heldSnapshots) Save(ctx context.Context, snap progress.Snapshot) error {
	if h.hold.CompareAndSwap(true, false) {
		close(h.started)
		<-h.release
	}
	return h.SnapshotStore.Save(ctx, snap)
}

func TestSession_ResetNotUndoneByPendingSave(t *testing.T) {
	snaps := &heldSnapshots{
		SnapshotStore: progress.NewMemorySnapshotStore(),
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	mock := backend.NewMockBackend(testSyllabus())
	s := open(t, newConfig(mock, snaps))
	waitFor(t, func() bool {
		_, err := snaps.Load(context.Background(), "1")
		return err == nil
	})

	snaps.hold.Store(true)
	if err := s.ToggleCompletion(topicA); err != nil {
		t.Fatal(err)
	}
	select {
	case <-snaps.started:
	case <-time.After(2 * time.Second):
		t.Fatal("save after toggle never started")
	}

	mock.Errs = map[string]error{"FetchSyllabus": errors.New("connection refused")}
	resetDone := make(chan error, 1)
	go func() { resetDone <- s.Reset(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(snaps.release)
	if err := <-resetDone; err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	s.Orchestrator().Wait()
	s.Close()

	if snap, err := snaps.Load(t.Context(), "1"); !errors.Is(err, progress.ErrSnapshotNotFound) {
		t.Errorf("Load() = %+v, %v; want no snapshot after reset", snap, err)
	}
}

func TestSession_CloseWritesFinalSnapshot(t *testing.T) {
	snaps := progress.NewMemorySnapshotStore()
	s, err := session.Open(t.Context(), newConfig(backend.NewMockBackend(testSyllabus()), snaps), "1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ToggleCompletion(topicA); err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()

	snap, err := snaps.Load(t.Context(), "1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !snap.Completed[topicA] {
		t.Error("final snapshot missing completion")
	}
}

func TestManager_OpenSharesSession(t *testing.T) {
	mock := backend.NewMockBackend(testSyllabus())
	release := make(chan struct{})
	mock.Before = func(ctx context.Context, method string) error {
		if method == "FetchSyllabus" {
			<-release
		}
		return nil
	}
	m := session.NewManager(newConfig(mock, nil))
	t.Cleanup(m.CloseAll)

	var wg sync.WaitGroup
	results := make([]*session.Session, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Open(context.Background(), "1")
			if err != nil {
				t.Errorf("Open() error = %v", err)
			}
			results[i] = s
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, s := range results[1:] {
		if s != results[0] {
			t.Fatal("concurrent opens returned different sessions")
		}
	}
	if got := mock.CallCount("FetchSyllabus"); got != 1 {
		t.Errorf("FetchSyllabus calls = %d, want 1", got)
	}
}

func TestManager_GetAndClose(t *testing.T) {
	m := session.NewManager(newConfig(backend.NewMockBackend(testSyllabus()), nil))

	if _, err := m.Get("1"); !errors.Is(err, session.ErrUnknownEnrollment) {
		t.Errorf("Get() error = %v, want ErrUnknownEnrollment", err)
	}
	if _, err := m.Open(t.Context(), "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Open(t.Context(), "2"); err != nil {
		t.Fatal(err)
	}
	if got := m.Enrollments(); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("Enrollments() = %v", got)
	}
	if !m.Close("1") {
		t.Error("Close() = false for an open session")
	}
	if m.Close("1") {
		t.Error("Close() = true for a closed session")
	}

	m.CloseAll()
	if _, err := m.Open(t.Context(), "3"); err == nil {
		t.Error("Open() after CloseAll should fail")
	}
}
