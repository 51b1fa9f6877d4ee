// Package session owns the learning state of one enrollment: its store, the
// orchestrator issuing remote calls into it, the video poller, and snapshot
// persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-learn/internal/backend"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/orchestrator"
	"github.com/p-n-ai/pai-learn/internal/poller"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

const (
	resourceLoadLimit = 4
	followupBuffer    = 64
	saveTimeout       = 10 * time.Second
)

var (
	// ErrUnknownEnrollment is returned for an enrollment without an open session.
	ErrUnknownEnrollment = errors.New("unknown enrollment")
	// ErrUnknownTopic is returned for a topic outside the session's syllabus.
	ErrUnknownTopic = errors.New("topic not in syllabus")
	// ErrUnknownResource is returned when selecting a resource the lesson does not list.
	ErrUnknownResource = errors.New("resource not found")
)

// Config holds the dependencies shared by all sessions.
type Config struct {
	Backend        backend.Backend
	Snapshots      progress.SnapshotStore // nil disables persistence
	Events         orchestrator.EventLogger
	Gate           progress.Gate
	Policy         orchestrator.OverlapPolicy
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollMaxErrors  int
}

type followupKind int

const (
	followFetchResources followupKind = iota
	followWatchVideo
)

type followup struct {
	kind followupKind
	key  curriculum.TopicKey
}

// Session is the learning context of one enrollment.
type Session struct {
	enrollmentID string
	gate         progress.Gate
	store        *progress.Store
	orch         *orchestrator.Orchestrator
	poller       *poller.Poller
	snapshots    progress.SnapshotStore

	mu         sync.Mutex
	current    curriculum.TopicKey
	hasCurrent bool

	// saveMu orders snapshot writes against Reset.
	saveMu sync.Mutex

	unsubscribe func()
	saves       chan struct{}
	followups   chan followup
	done        chan struct{}
	loopDone    chan struct{}
	closeOnce   sync.Once
}

// Open restores the enrollment's snapshot, refreshes its syllabus and loads
// the resource lists of every known lesson. A failed syllabus fetch is fatal
// only when no snapshot provided one.
func Open(ctx context.Context, cfg Config, enrollmentID string) (*Session, error) {
	if enrollmentID == "" {
		return nil, fmt.Errorf("enrollment id is empty")
	}
	gate := cfg.Gate
	if gate.PassPercent == 0 {
		gate = progress.DefaultGate()
	}

	initial := progress.NewState()
	if cfg.Snapshots != nil {
		snap, err := cfg.Snapshots.Load(ctx, enrollmentID)
		switch {
		case err == nil:
			initial = snap.State()
			slog.Info("session restored from snapshot",
				"enrollment_id", enrollmentID,
				"saved_at", snap.SavedAt,
			)
		case errors.Is(err, progress.ErrSnapshotNotFound):
		default:
			slog.Warn("failed to load snapshot, starting fresh", "enrollment_id", enrollmentID, "error", err)
		}
	}

	s := &Session{
		enrollmentID: enrollmentID,
		gate:         gate,
		store:        progress.NewStore(initial),
		snapshots:    cfg.Snapshots,
		saves:        make(chan struct{}, 1),
		followups:    make(chan followup, followupBuffer),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	s.orch = orchestrator.New(orchestrator.Config{
		Backend:        cfg.Backend,
		Store:          s.store,
		Gate:           gate,
		Policy:         cfg.Policy,
		RequestTimeout: cfg.RequestTimeout,
		Events:         cfg.Events,
	})
	s.poller = poller.New(s.orch, poller.Config{
		Interval:   cfg.PollInterval,
		MaxErrors:  cfg.PollMaxErrors,
		OnTerminal: s.onVideoTerminal,
	})
	s.unsubscribe = s.store.Subscribe(s.onAction)
	go s.loop()

	if err := s.orch.LoadSyllabus(ctx, enrollmentID); err != nil {
		if s.store.State().Syllabus == nil {
			s.Close()
			return nil, fmt.Errorf("fetch syllabus: %w", err)
		}
		slog.Warn("syllabus refresh failed, using snapshot", "enrollment_id", enrollmentID, "error", err)
	}

	s.loadResources(ctx)

	slog.Info("session opened",
		"enrollment_id", enrollmentID,
		"course", s.store.State().CourseName,
	)
	return s, nil
}

// loadResources fetches the resource list of every lesson with content.
// Failures are recorded per topic and do not fail the session.
func (s *Session) loadResources(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(resourceLoadLimit)
	for key := range s.store.State().Content {
		g.Go(func() error {
			return s.orch.LoadResources(ctx, key)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("failed to load some lesson resources", "enrollment_id", s.enrollmentID, "error", err)
	}
}

// onAction runs under the store lock. It only signals the session loop.
func (s *Session) onAction(_ progress.State, a progress.Action) {
	if ra, ok := a.(progress.RemoteAction); ok {
		if ra.Result().Phase != progress.Succeeded {
			return
		}
		switch act := a.(type) {
		case progress.GenerateContent:
			s.enqueue(followup{kind: followFetchResources, key: act.Key})
		case progress.GenerateVideo:
			s.enqueue(followup{kind: followWatchVideo, key: act.Key})
		}
	} else if _, ok := a.(progress.SetActiveView); ok {
		return
	}

	select {
	case s.saves <- struct{}{}:
	default:
	}
}

func (s *Session) enqueue(f followup) {
	select {
	case s.followups <- f:
	default:
		slog.Warn("session followup dropped", "enrollment_id", s.enrollmentID, "topic_key", f.key.String())
	}
}

func (s *Session) onVideoTerminal(key curriculum.TopicKey, _ progress.VideoTask) {
	s.enqueue(followup{kind: followFetchResources, key: key})
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.done:
			return
		case <-s.saves:
			s.save()
		case f := <-s.followups:
			s.handle(f)
		}
	}
}

func (s *Session) handle(f followup) {
	switch f.kind {
	case followFetchResources:
		if err := s.orch.FetchResources(f.key); err != nil && !errors.Is(err, orchestrator.ErrClosed) {
			slog.Debug("resource refresh skipped", "topic_key", f.key.String(), "error", err)
		}
	case followWatchVideo:
		if s.isCurrent(f.key) {
			s.poller.Watch(f.key)
		}
	}
}

func (s *Session) save() {
	if s.snapshots == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	state := s.store.State()
	if state.EnrollmentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, progress.SnapshotOf(state)); err != nil {
		slog.Error("failed to save snapshot", "enrollment_id", s.enrollmentID, "error", err)
	}
}

// Close stops polling, settles outstanding calls and writes a final snapshot.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.poller.Close()
		s.orch.Close()
		s.unsubscribe()
		close(s.done)
		<-s.loopDone
		s.save()
		slog.Info("session closed", "enrollment_id", s.enrollmentID)
	})
}

// EnrollmentID returns the enrollment the session belongs to.
func (s *Session) EnrollmentID() string { return s.enrollmentID }

// Gate returns the gating policy of the session.
func (s *Session) Gate() progress.Gate { return s.gate }

// State returns the current state. It must be treated as read-only.
func (s *Session) State() progress.State { return s.store.State() }

// Outline derives the course outline from the current state.
func (s *Session) Outline() progress.Outline {
	return progress.BuildOutline(s.store.State(), s.gate)
}

// Subscribe registers fn for every applied action. fn runs under the store
// lock and must not call back into the session.
func (s *Session) Subscribe(fn progress.Subscriber) func() {
	return s.store.Subscribe(fn)
}

// Orchestrator returns the orchestrator issuing the session's remote calls.
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// TopicKey builds a key in the session's enrollment.
func (s *Session) TopicKey(module, topic int) curriculum.TopicKey {
	return curriculum.NewTopicKey(s.enrollmentID, module, topic)
}

// CheckTopic reports ErrUnknownTopic unless key addresses a topic of the
// session's syllabus.
func (s *Session) CheckTopic(key curriculum.TopicKey) error {
	if key.EnrollmentID != s.enrollmentID {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, key)
	}
	if _, ok := s.store.State().Syllabus.Topic(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, key)
	}
	return nil
}

func (s *Session) isCurrent(key curriculum.TopicKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasCurrent && s.current == key
}

// Current returns the topic the learner is looking at.
func (s *Session) Current() (curriculum.TopicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

// Navigate makes key the current topic. The previous topic's video watcher is
// stopped, the new topic starts on its reading view, and polling resumes from
// the stored task id if its video is still running.
func (s *Session) Navigate(key curriculum.TopicKey) error {
	if err := s.CheckTopic(key); err != nil {
		return err
	}

	s.mu.Lock()
	prev, hadPrev := s.current, s.hasCurrent
	s.current, s.hasCurrent = key, true
	s.mu.Unlock()

	if hadPrev && prev == key {
		return nil
	}
	if hadPrev {
		s.poller.Stop(prev)
	}
	s.store.Dispatch(progress.ShowReading(key))

	if task, ok := s.store.State().Videos[key]; ok && !task.Status.Terminal() {
		s.poller.Watch(key)
	}
	return nil
}

// Leave clears the current topic and stops its watcher.
func (s *Session) Leave() {
	s.mu.Lock()
	prev, hadPrev := s.current, s.hasCurrent
	s.hasCurrent = false
	s.mu.Unlock()

	if hadPrev {
		s.poller.Stop(prev)
	}
}

// Watching reports whether the video of key is being polled.
func (s *Session) Watching(key curriculum.TopicKey) bool {
	return s.poller.Watching(key)
}

// ToggleCompletion flips the completion flag of a topic.
func (s *Session) ToggleCompletion(key curriculum.TopicKey) error {
	if err := s.CheckTopic(key); err != nil {
		return err
	}
	s.store.Dispatch(progress.ToggleCompletion{Key: key})
	return nil
}

// ShowReading presents the topic's lesson text.
func (s *Session) ShowReading(key curriculum.TopicKey) error {
	if err := s.CheckTopic(key); err != nil {
		return err
	}
	s.store.Dispatch(progress.ShowReading(key))
	return nil
}

// ShowCreateNote opens the note authoring form of a topic.
func (s *Session) ShowCreateNote(key curriculum.TopicKey) error {
	if err := s.CheckTopic(key); err != nil {
		return err
	}
	s.store.Dispatch(progress.ShowCreateNote(key))
	return nil
}

// ShowResource presents one of the resources listed for the topic's lesson.
func (s *Session) ShowResource(key curriculum.TopicKey, resourceID string) error {
	if err := s.CheckTopic(key); err != nil {
		return err
	}
	for _, r := range s.store.State().LessonResources(key) {
		if r.ID != resourceID {
			continue
		}
		action, err := progress.ShowResource(key, r)
		if err != nil {
			return err
		}
		s.store.Dispatch(action)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownResource, resourceID)
}

// Present resolves what is shown for a topic.
func (s *Session) Present(key curriculum.TopicKey) progress.Presentation {
	return progress.Present(s.store.State(), key)
}

// Reset drops all progress of the enrollment, including its snapshot, and
// fetches the syllabus again.
func (s *Session) Reset(ctx context.Context) error {
	s.poller.StopAll()
	s.mu.Lock()
	s.hasCurrent = false
	s.mu.Unlock()

	// A save in progress finishes before the clear, so it cannot write the
	// old progress back after the delete.
	if err := s.clearSnapshot(ctx); err != nil {
		return err
	}
	return s.orch.FetchSyllabus(s.enrollmentID)
}

func (s *Session) clearSnapshot(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.store.Dispatch(progress.Clear{})
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Delete(ctx, s.enrollmentID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
