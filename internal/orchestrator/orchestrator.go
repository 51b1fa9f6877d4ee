// Package orchestrator issues remote generation requests on behalf of a
// learner session and reduces their outcomes into a progress.Store.
//
// Every operation validates its prerequisites against the current state,
// dispatches a requested action tagged with a fresh sequence number, and
// returns. The remote call runs in the background; its outcome is dispatched
// with the same sequence number so that the store can discard completions of
// superseded requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/p-n-ai/pai-learn/internal/backend"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

const defaultRequestTimeout = 2 * time.Minute

var (
	// ErrMissingPrerequisite is returned when an operation is invoked before
	// the state it depends on exists. Nothing is dispatched.
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	// ErrInFlight is returned under the Reject policy when the same operation
	// is already outstanding for a topic.
	ErrInFlight = errors.New("request already in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// OverlapPolicy decides what happens when an operation is requested while an
// earlier request for the same operation and topic is still outstanding.
type OverlapPolicy int

const (
	// Supersede issues the new request; the older one's completion is discarded.
	Supersede OverlapPolicy = iota
	// Reject refuses the new request with ErrInFlight.
	Reject
)

func (p OverlapPolicy) String() string {
	if p == Reject {
		return "reject"
	}
	return "supersede"
}

// ParseOverlapPolicy parses "supersede" or "reject".
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "supersede":
		return Supersede, nil
	case "reject":
		return Reject, nil
	default:
		return Supersede, fmt.Errorf("unknown overlap policy %q", s)
	}
}

// Dispatcher is the part of progress.Store the orchestrator needs.
type Dispatcher interface {
	Dispatch(a progress.Action) bool
	State() progress.State
}

// Config holds dependencies for an Orchestrator.
type Config struct {
	Backend        backend.Backend
	Store          Dispatcher
	Gate           progress.Gate
	Policy         OverlapPolicy
	RequestTimeout time.Duration // per remote call (default 2m)
	Events         EventLogger
}

// Orchestrator issues remote requests for one session.
type Orchestrator struct {
	backend backend.Backend
	store   Dispatcher
	gate    progress.Gate
	policy  OverlapPolicy
	timeout time.Duration
	events  EventLogger

	seq atomic.Uint64

	// mu makes the in-flight check and the requested dispatch atomic.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. Close must be called to release it.
func New(cfg Config) *Orchestrator {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	gate := cfg.Gate
	if gate.PassPercent == 0 {
		gate = progress.DefaultGate()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		backend: cfg.Backend,
		store:   cfg.Store,
		gate:    gate,
		policy:  cfg.Policy,
		timeout: timeout,
		events:  events,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close cancels all outstanding calls and waits for their outcomes to be
// dispatched. It does not cancel remote jobs.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.cancel()
	o.mu.Unlock()
	o.wg.Wait()
}

// Wait blocks until every background call issued so far has completed.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type buildFunc func(progress.Outcome) progress.Action

type callFunc func(ctx context.Context) (buildFunc, error)

func missing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMissingPrerequisite, fmt.Sprintf(format, args...))
}

// launch runs call in the background after dispatching its request.
func (o *Orchestrator) launch(op progress.Operation, key curriculum.TopicKey, request buildFunc, call callFunc) error {
	seq, err := o.begin(op, key, request)
	if err != nil {
		return err
	}
	go func() {
		defer o.wg.Done()
		_ = o.complete(context.Background(), op, key, seq, request, call)
	}()
	return nil
}

// run is launch without the goroutine: it returns the call's error once the
// outcome has been dispatched.
func (o *Orchestrator) run(ctx context.Context, op progress.Operation, key curriculum.TopicKey, request buildFunc, call callFunc) error {
	seq, err := o.begin(op, key, request)
	if err != nil {
		return err
	}
	defer o.wg.Done()
	return o.complete(ctx, op, key, seq, request, call)
}

// begin dispatches the requested phase and registers the call with the wait group.
func (o *Orchestrator) begin(op progress.Operation, key curriculum.TopicKey, request buildFunc) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx.Err() != nil {
		return 0, ErrClosed
	}
	if o.policy == Reject && o.store.State().Loading(op, key) {
		return 0, fmt.Errorf("%s for %s: %w", op, key, ErrInFlight)
	}

	seq := o.seq.Add(1)
	o.wg.Add(1)
	o.store.Dispatch(request(progress.Outcome{Phase: progress.Requested, Seq: seq}))
	return seq, nil
}

// complete performs the remote call and dispatches its outcome.
func (o *Orchestrator) complete(parent context.Context, op progress.Operation, key curriculum.TopicKey, seq uint64, request buildFunc, call callFunc) error {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	start := time.Now()
	success, err := call(ctx)
	if err != nil && errors.Is(err, context.Canceled) && (parent.Err() != nil || o.ctx.Err() != nil) {
		o.store.Dispatch(request(progress.Outcome{Phase: progress.Cancelled, Seq: seq}))
		slog.Info("remote operation cancelled",
			"operation", op.String(),
			"topic_key", key.String(),
			"seq", seq,
		)
		return err
	}
	if err != nil {
		applied := o.store.Dispatch(request(progress.Outcome{Phase: progress.Failed, Seq: seq, Err: backend.Message(err)}))
		slog.Warn("remote operation failed",
			"operation", op.String(),
			"topic_key", key.String(),
			"seq", seq,
			"applied", applied,
			"error", err,
		)
		o.logEvent(EventGenerationFailed, op, key, seq, time.Since(start), err)
		return err
	}

	applied := o.store.Dispatch(success(progress.Outcome{Phase: progress.Succeeded, Seq: seq}))
	level := slog.LevelInfo
	if op == progress.OpPollVideo {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "remote operation succeeded",
		"operation", op.String(),
		"topic_key", key.String(),
		"seq", seq,
		"applied", applied,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	o.logEvent(EventGenerationSucceeded, op, key, seq, time.Since(start), nil)
	return nil
}

func (o *Orchestrator) logEvent(eventType string, op progress.Operation, key curriculum.TopicKey, seq uint64, d time.Duration, callErr error) {
	// Polls are too frequent to be worth recording individually.
	if op == progress.OpPollVideo && callErr == nil {
		return
	}
	data := map[string]any{
		"operation":   op.String(),
		"seq":         seq,
		"duration_ms": d.Milliseconds(),
	}
	if callErr != nil {
		data["error"] = backend.Message(callErr)
	}
	topic := ""
	if key.IsTopic() {
		topic = key.String()
	}
	if err := o.events.LogEvent(Event{
		EnrollmentID: key.EnrollmentID,
		TopicKey:     topic,
		EventType:    eventType,
		Data:         data,
	}); err != nil {
		slog.Warn("failed to log generation event", "error", err)
	}
}

func topicName(s progress.State, key curriculum.TopicKey) (string, bool) {
	if key.EnrollmentID != s.EnrollmentID {
		return "", false
	}
	t, ok := s.Syllabus.Topic(key)
	if !ok || t.Name == "" {
		return "", false
	}
	return t.Name, true
}

// FetchSyllabus loads the syllabus of an enrollment in the background.
func (o *Orchestrator) FetchSyllabus(enrollmentID string) error {
	if enrollmentID == "" {
		return missing("enrollment id is empty")
	}
	request, call := o.syllabusCall(enrollmentID)
	return o.launch(progress.OpFetchSyllabus, curriculum.EnrollmentKey(enrollmentID), request, call)
}

// LoadSyllabus is FetchSyllabus that blocks until the outcome is dispatched.
func (o *Orchestrator) LoadSyllabus(ctx context.Context, enrollmentID string) error {
	if enrollmentID == "" {
		return missing("enrollment id is empty")
	}
	request, call := o.syllabusCall(enrollmentID)
	return o.run(ctx, progress.OpFetchSyllabus, curriculum.EnrollmentKey(enrollmentID), request, call)
}

func (o *Orchestrator) syllabusCall(enrollmentID string) (buildFunc, callFunc) {
	request := func(out progress.Outcome) progress.Action {
		return progress.FetchSyllabus{Outcome: out, EnrollmentID: enrollmentID}
	}
	return request, func(ctx context.Context) (buildFunc, error) {
		resp, err := o.backend.FetchSyllabus(ctx, enrollmentID)
		if err != nil {
			return nil, err
		}
		return func(out progress.Outcome) progress.Action {
			// The key is the requested enrollment; a differing id in the
			// response would otherwise orphan the in-flight flag.
			return progress.FetchSyllabus{Outcome: out, EnrollmentID: enrollmentID, CourseName: resp.CourseName, Syllabus: resp.Syllabus}
		}, nil
	}
}

// GenerateContent requests lesson text for a topic. With regenerate the
// backend is asked to produce a fresh lesson even if one exists.
func (o *Orchestrator) GenerateContent(key curriculum.TopicKey, regenerate bool) error {
	name, ok := topicName(o.store.State(), key)
	if !ok {
		return missing("topic %s is not in the syllabus", key)
	}
	request := func(out progress.Outcome) progress.Action {
		return progress.GenerateContent{Outcome: out, Key: key}
	}
	req := backend.GenerateContentRequest{
		EnrollmentID: key.EnrollmentID,
		ModuleID:     key.Module,
		TopicIndex:   key.Topic,
		TopicName:    name,
		Regenerate:   regenerate,
	}
	return o.launch(progress.OpGenerateContent, key, request,
		func(ctx context.Context) (buildFunc, error) {
			content, err := o.backend.GenerateContent(ctx, req)
			if err != nil {
				return nil, err
			}
			return func(out progress.Outcome) progress.Action {
				return progress.GenerateContent{Outcome: out, Key: key, Content: content}
			}, nil
		})
}

// GenerateQuiz requests a quiz for the topic's lesson.
func (o *Orchestrator) GenerateQuiz(key curriculum.TopicKey) error {
	s := o.store.State()
	content, ok := s.Content[key]
	if !ok || content.LessonID == "" {
		return missing("topic %s has no lesson content", key)
	}
	name, _ := topicName(s, key)
	request := func(out progress.Outcome) progress.Action {
		return progress.GenerateQuiz{Outcome: out, Key: key}
	}
	req := backend.GenerateQuizRequest{LessonID: content.LessonID, TopicName: name}
	return o.launch(progress.OpGenerateQuiz, key, request,
		func(ctx context.Context) (buildFunc, error) {
			quiz, err := o.backend.GenerateQuiz(ctx, req)
			if err != nil {
				return nil, err
			}
			return func(out progress.Outcome) progress.Action {
				return progress.GenerateQuiz{Outcome: out, Key: key, Quiz: quiz}
			}, nil
		})
}

// EvaluateQuiz submits answers for the topic's quiz. answers holds one option
// index per question, in question order. A passing result marks the topic
// complete.
func (o *Orchestrator) EvaluateQuiz(key curriculum.TopicKey, answers []int) error {
	s := o.store.State()
	quiz, ok := s.Quizzes[key]
	if !ok || len(quiz.Questions) == 0 {
		return missing("topic %s has no quiz", key)
	}
	if len(answers) != len(quiz.Questions) {
		return missing("%d answers for %d questions", len(answers), len(quiz.Questions))
	}
	ids := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if answers[i] < 0 || (len(q.Options) > 0 && answers[i] >= len(q.Options)) {
			return missing("question %s has no option %d", q.ID, answers[i])
		}
		ids[i] = q.ID
	}

	request := func(out progress.Outcome) progress.Action {
		return progress.EvaluateQuiz{Outcome: out, Key: key}
	}
	req := backend.EvaluateQuizRequest{
		EnrollmentID: key.EnrollmentID,
		ModuleID:     key.Module,
		LessonID:     s.Content[key].LessonID,
		QuestionIDs:  ids,
		Answers:      append([]int(nil), answers...),
	}
	return o.launch(progress.OpEvaluateQuiz, key, request,
		func(ctx context.Context) (buildFunc, error) {
			result, err := o.backend.EvaluateQuiz(ctx, req)
			if err != nil {
				return nil, err
			}
			passed := o.gate.Passed(result)
			return func(out progress.Outcome) progress.Action {
				return progress.EvaluateQuiz{Outcome: out, Key: key, Result: result, Passed: passed}
			}, nil
		})
}

// GenerateVideo starts a video synthesis job. Only the topic name is
// required; the lesson id is sent when content exists.
func (o *Orchestrator) GenerateVideo(key curriculum.TopicKey) error {
	s := o.store.State()
	name, ok := topicName(s, key)
	if !ok {
		return missing("topic %s is not in the syllabus", key)
	}
	request := func(out progress.Outcome) progress.Action {
		return progress.GenerateVideo{Outcome: out, Key: key}
	}
	req := backend.GenerateVideoRequest{Topic: name, LessonID: s.Content[key].LessonID}
	return o.launch(progress.OpGenerateVideo, key, request,
		func(ctx context.Context) (buildFunc, error) {
			taskID, err := o.backend.GenerateVideo(ctx, req)
			if err != nil {
				return nil, err
			}
			return func(out progress.Outcome) progress.Action {
				return progress.GenerateVideo{Outcome: out, Key: key, TaskID: taskID}
			}, nil
		})
}

// PollVideo queries the status of the topic's video job once and blocks until
// the outcome is dispatched. It returns the stored task afterwards.
func (o *Orchestrator) PollVideo(ctx context.Context, key curriculum.TopicKey) (progress.VideoTask, error) {
	task, ok := o.store.State().Videos[key]
	if !ok || task.TaskID == "" {
		return progress.VideoTask{}, missing("topic %s has no video task", key)
	}
	if task.Status.Terminal() {
		return task, nil
	}

	taskID := task.TaskID
	request := func(out progress.Outcome) progress.Action {
		return progress.PollVideoStatus{Outcome: out, Key: key, TaskID: taskID}
	}
	err := o.run(ctx, progress.OpPollVideo, key, request,
		func(ctx context.Context) (buildFunc, error) {
			st, err := o.backend.VideoStatus(ctx, taskID)
			if err != nil {
				return nil, err
			}
			return func(out progress.Outcome) progress.Action {
				return progress.PollVideoStatus{
					Outcome:  out,
					Key:      key,
					TaskID:   taskID,
					Status:   st.Status,
					VideoURL: st.VideoURL,
					JobError: st.ErrorMessage,
				}
			}, nil
		})
	if errors.Is(err, ErrInFlight) || errors.Is(err, ErrClosed) {
		return task, err
	}
	return o.store.State().Videos[key], err
}

// FetchResources lists the resources of the topic's lesson in the background.
func (o *Orchestrator) FetchResources(key curriculum.TopicKey) error {
	request, call, err := o.resourcesCall(key)
	if err != nil {
		return err
	}
	return o.launch(progress.OpFetchResources, key, request, call)
}

// LoadResources is FetchResources that blocks until the outcome is dispatched.
func (o *Orchestrator) LoadResources(ctx context.Context, key curriculum.TopicKey) error {
	request, call, err := o.resourcesCall(key)
	if err != nil {
		return err
	}
	return o.run(ctx, progress.OpFetchResources, key, request, call)
}

func (o *Orchestrator) resourcesCall(key curriculum.TopicKey) (buildFunc, callFunc, error) {
	content, ok := o.store.State().Content[key]
	if !ok || content.LessonID == "" {
		return nil, nil, missing("topic %s has no lesson content", key)
	}
	lessonID := content.LessonID
	request := func(out progress.Outcome) progress.Action {
		return progress.FetchResources{Outcome: out, Key: key, LessonID: lessonID}
	}
	return request, func(ctx context.Context) (buildFunc, error) {
		resources, err := o.backend.ListResources(ctx, lessonID)
		if err != nil {
			return nil, err
		}
		return func(out progress.Outcome) progress.Action {
			return progress.FetchResources{Outcome: out, Key: key, LessonID: lessonID, Resources: resources}
		}, nil
	}, nil
}

// GenerateRemediation requests notes for the topic's weak areas. When
// weakAreas is empty the weak areas of the stored quiz result are used.
func (o *Orchestrator) GenerateRemediation(key curriculum.TopicKey, weakAreas []string) error {
	s := o.store.State()
	content, ok := s.Content[key]
	if !ok || content.LessonID == "" {
		return missing("topic %s has no lesson content", key)
	}
	if len(weakAreas) == 0 {
		weakAreas = s.QuizResults[key].WeakAreas
	}
	if len(weakAreas) == 0 {
		return missing("topic %s has no weak areas", key)
	}
	name, _ := topicName(s, key)

	request := func(out progress.Outcome) progress.Action {
		return progress.GenerateRemediation{Outcome: out, Key: key}
	}
	req := backend.RemediationRequest{
		EnrollmentID: key.EnrollmentID,
		LessonID:     content.LessonID,
		TopicName:    name,
		WeakAreas:    append([]string(nil), weakAreas...),
	}
	return o.launch(progress.OpGenerateRemediation, key, request,
		func(ctx context.Context) (buildFunc, error) {
			notes, err := o.backend.GenerateRemediation(ctx, req)
			if err != nil {
				return nil, err
			}
			return func(out progress.Outcome) progress.Action {
				return progress.GenerateRemediation{Outcome: out, Key: key, Notes: notes}
			}, nil
		})
}

// CreateNote attaches a learner-authored note to the topic's lesson.
func (o *Orchestrator) CreateNote(key curriculum.TopicKey, title, text string) error {
	content, ok := o.store.State().Content[key]
	if !ok || content.LessonID == "" {
		return missing("topic %s has no lesson content", key)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return missing("note title is empty")
	}
	request := func(out progress.Outcome) progress.Action {
		return progress.CreateNote{Outcome: out, Key: key}
	}
	req := backend.CreateNoteRequest{LessonID: content.LessonID, Title: title, ContentText: text}
	return o.launch(progress.OpCreateNote, key, request,
		func(ctx context.Context) (buildFunc, error) {
			res, err := o.backend.CreateNote(ctx, req)
			if err != nil {
				return nil, err
			}
			return func(out progress.Outcome) progress.Action {
				return progress.CreateNote{Outcome: out, Key: key, Resource: res}
			}, nil
		})
}
