package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

const fixtureModel = "fixture"

// fixtureQuestions is how many questions a fixture quiz has.
const fixtureQuestions = 3

// FixtureBackend serves syllabi from a curriculum.Loader and answers every
// generation call with deterministic placeholder artifacts. It is meant for
// demos and local development without the real service.
type FixtureBackend struct {
	loader *curriculum.Loader
	now    func() time.Time

	mu        sync.Mutex
	lessons   map[string]fixtureLesson
	resources map[string][]progress.Resource
	videos    map[string]*fixtureVideo
}

type fixtureLesson struct {
	enrollmentID string
	topicName    string
}

type fixtureVideo struct {
	lessonID string
	topic    string
	polls    int
}

// NewFixtureBackend creates a backend over loader.
func NewFixtureBackend(loader *curriculum.Loader) *FixtureBackend {
	return &FixtureBackend{
		loader:    loader,
		now:       time.Now,
		lessons:   make(map[string]fixtureLesson),
		resources: make(map[string][]progress.Resource),
		videos:    make(map[string]*fixtureVideo),
	}
}

func notFound(format string, args ...any) error {
	return &APIError{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func (f *FixtureBackend) FetchSyllabus(_ context.Context, enrollmentID string) (SyllabusResponse, error) {
	fx, ok := f.loader.Get(enrollmentID)
	if !ok {
		return SyllabusResponse{}, notFound("no syllabus for enrollment %s", enrollmentID)
	}
	model := fx.Model
	if model == "" {
		model = fixtureModel
	}
	return SyllabusResponse{
		EnrollmentID:     enrollmentID,
		CourseName:       fx.CourseName,
		Syllabus:         fx.Syllabus,
		GeneratedByModel: model,
	}, nil
}

// lessonID derives a stable id so that regenerating a topic keeps its lesson
// and therefore its resources.
func lessonID(req GenerateContentRequest) string {
	key := curriculum.NewTopicKey(req.EnrollmentID, req.ModuleID, req.TopicIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("lesson:"+key.String())).String()
}

func (f *FixtureBackend) GenerateContent(_ context.Context, req GenerateContentRequest) (progress.GeneratedContent, error) {
	fx, ok := f.loader.Get(req.EnrollmentID)
	if !ok {
		return progress.GeneratedContent{}, notFound("no syllabus for enrollment %s", req.EnrollmentID)
	}
	topic, ok := fx.Topic(curriculum.NewTopicKey(req.EnrollmentID, req.ModuleID, req.TopicIndex))
	if !ok {
		return progress.GeneratedContent{}, notFound("no topic %d in module %d", req.TopicIndex, req.ModuleID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", topic.Name)
	if topic.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", topic.Description)
	}
	if notes, ok := f.loader.TeachingNotes(req.EnrollmentID); ok {
		b.WriteString(strings.TrimSpace(notes))
		b.WriteString("\n")
	}

	id := lessonID(req)
	f.mu.Lock()
	f.lessons[id] = fixtureLesson{enrollmentID: req.EnrollmentID, topicName: topic.Name}
	f.mu.Unlock()

	return progress.GeneratedContent{LessonID: id, Content: b.String(), GeneratedAt: f.now()}, nil
}

func (f *FixtureBackend) lesson(id string) (fixtureLesson, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lessons[id]
	return l, ok
}

func (f *FixtureBackend) GenerateQuiz(_ context.Context, req GenerateQuizRequest) (progress.GeneratedQuiz, error) {
	l, ok := f.lesson(req.LessonID)
	if !ok {
		return progress.GeneratedQuiz{}, notFound("lesson %s not found", req.LessonID)
	}
	questions := make([]progress.Question, fixtureQuestions)
	for i := range questions {
		questions[i] = progress.Question{
			ID:         fmt.Sprintf("%s-q%d", req.LessonID, i+1),
			Text:       fmt.Sprintf("Question %d about %s", i+1, l.topicName),
			TopicLabel: fmt.Sprintf("%s part %d", l.topicName, i+1),
			Options:    []string{"Correct", "Plausible", "Unrelated", "I don't know"},
		}
	}
	return progress.GeneratedQuiz{Questions: questions, GeneratedAt: f.now()}, nil
}

// EvaluateQuiz treats option 0 as the right answer for every question.
func (f *FixtureBackend) EvaluateQuiz(_ context.Context, req EvaluateQuizRequest) (progress.QuizResult, error) {
	if len(req.QuestionIDs) == 0 || len(req.QuestionIDs) != len(req.Answers) {
		return progress.QuizResult{}, &APIError{Status: http.StatusBadRequest, Message: "answers must match questions"}
	}
	l, _ := f.lesson(req.LessonID)

	correct := 0
	var weak []string
	for i, a := range req.Answers {
		if a == 0 {
			correct++
			continue
		}
		label := l.topicName
		if label == "" {
			label = req.QuestionIDs[i]
		}
		weak = append(weak, fmt.Sprintf("%s part %d", label, i+1))
	}
	total := len(req.Answers)
	return progress.QuizResult{
		ScoreLabel:     fmt.Sprintf("%d/%d", correct, total),
		ScorePercent:   correct * 100 / total,
		CorrectCount:   correct,
		TotalQuestions: total,
		WeakAreas:      weak,
	}, nil
}

func (f *FixtureBackend) GenerateVideo(_ context.Context, req GenerateVideoRequest) (string, error) {
	if req.Topic == "" {
		return "", &APIError{Status: http.StatusBadRequest, Message: "topic is required"}
	}
	id := uuid.NewString()
	f.mu.Lock()
	f.videos[id] = &fixtureVideo{lessonID: req.LessonID, topic: req.Topic}
	f.mu.Unlock()
	return id, nil
}

// VideoStatus reports processing on the first poll and completed afterwards.
// A completed video is attached to its lesson as a resource.
func (f *FixtureBackend) VideoStatus(_ context.Context, taskID string) (VideoStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.videos[taskID]
	if !ok {
		return VideoStatus{}, notFound("video task %s not found", taskID)
	}
	v.polls++
	if v.polls < 2 {
		return VideoStatus{Status: progress.VideoProcessing}, nil
	}

	url := "/media/" + taskID + ".mp4"
	if v.polls == 2 && v.lessonID != "" {
		f.resources[v.lessonID] = append(f.resources[v.lessonID], progress.Resource{
			ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte("video:"+taskID)).String(),
			LessonID:  v.lessonID,
			Type:      progress.ResourceVideo,
			Title:     v.topic,
			FileURL:   url,
			CreatedAt: f.now(),
		})
	}
	return VideoStatus{Status: progress.VideoCompleted, VideoURL: url}, nil
}

func (f *FixtureBackend) ListResources(_ context.Context, lessonID string) ([]progress.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]progress.Resource, len(f.resources[lessonID]))
	copy(out, f.resources[lessonID])
	return out, nil
}

func (f *FixtureBackend) CreateNote(_ context.Context, req CreateNoteRequest) (progress.Resource, error) {
	if req.Title == "" {
		return progress.Resource{}, &APIError{Status: http.StatusBadRequest, Message: "title is required"}
	}
	res := progress.Resource{
		ID:        uuid.NewString(),
		LessonID:  req.LessonID,
		Type:      progress.ResourceNotes,
		Title:     req.Title,
		Content:   req.ContentText,
		CreatedAt: f.now(),
	}
	f.mu.Lock()
	f.resources[req.LessonID] = append(f.resources[req.LessonID], res)
	f.mu.Unlock()
	return res, nil
}

func (f *FixtureBackend) GenerateRemediation(_ context.Context, req RemediationRequest) ([]progress.RemediationNote, error) {
	if len(req.WeakAreas) == 0 {
		return nil, &APIError{Status: http.StatusBadRequest, Message: "weak_areas is required"}
	}
	notes := make([]progress.RemediationNote, 0, len(req.WeakAreas))
	for _, area := range req.WeakAreas {
		notes = append(notes, progress.RemediationNote{
			SubTopic: area,
			Content:  fmt.Sprintf("Review %s in the context of %s, then retry the quiz.", area, req.TopicName),
		})
	}
	return notes, nil
}
