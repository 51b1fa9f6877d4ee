// Package backend is the client side of the remote planning and generation
// service. Everything the service does is opaque here; this package only
// shapes requests and decodes responses into progress types.
package backend

import (
	"context"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// Backend is the remote service consumed by the orchestrator.
type Backend interface {
	FetchSyllabus(ctx context.Context, enrollmentID string) (SyllabusResponse, error)
	GenerateContent(ctx context.Context, req GenerateContentRequest) (progress.GeneratedContent, error)
	GenerateQuiz(ctx context.Context, req GenerateQuizRequest) (progress.GeneratedQuiz, error)
	EvaluateQuiz(ctx context.Context, req EvaluateQuizRequest) (progress.QuizResult, error)
	GenerateVideo(ctx context.Context, req GenerateVideoRequest) (string, error)
	VideoStatus(ctx context.Context, taskID string) (VideoStatus, error)
	ListResources(ctx context.Context, lessonID string) ([]progress.Resource, error)
	CreateNote(ctx context.Context, req CreateNoteRequest) (progress.Resource, error)
	GenerateRemediation(ctx context.Context, req RemediationRequest) ([]progress.RemediationNote, error)
}

// SyllabusResponse is the syllabus generated for an enrollment.
type SyllabusResponse struct {
	EnrollmentID     string
	CourseName       string
	Syllabus         curriculum.Syllabus
	GeneratedByModel string
}

type GenerateContentRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	ModuleID     int    `json:"module_id"`
	TopicIndex   int    `json:"topic_index"`
	TopicName    string `json:"topic_name"`
	Regenerate   bool   `json:"regenerate,omitempty"`
}

type GenerateQuizRequest struct {
	LessonID  string `json:"lesson_id"`
	TopicName string `json:"topic_name"`
}

// EvaluateQuizRequest submits one answer (an option index) per question.
// QuestionIDs and Answers are parallel.
type EvaluateQuizRequest struct {
	EnrollmentID string   `json:"enrollment_id"`
	ModuleID     int      `json:"module_id"`
	LessonID     string   `json:"lesson_id,omitempty"`
	QuestionIDs  []string `json:"question_ids"`
	Answers      []int    `json:"answers"`
}

type GenerateVideoRequest struct {
	Topic    string `json:"topic"`
	LessonID string `json:"lesson_id,omitempty"`
}

// VideoStatus is one observation of a video synthesis job.
type VideoStatus struct {
	Status       progress.VideoStatus `json:"status"`
	VideoURL     string               `json:"video_url,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

type CreateNoteRequest struct {
	LessonID    string `json:"lesson"`
	Title       string `json:"title"`
	ContentText string `json:"content_text"`
}

type RemediationRequest struct {
	EnrollmentID string   `json:"enrollment_id"`
	LessonID     string   `json:"lesson_id"`
	TopicName    string   `json:"topic_name"`
	WeakAreas    []string `json:"weak_areas"`
}

// TokenSource supplies the bearer credential attached to every request.
// Refreshing it is the caller's concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
