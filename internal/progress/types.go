// Package progress holds the per-enrollment learning state: a typed State, the
// closed set of actions that change it, and pure functions that derive gating
// and presentation from it.
package progress

import "time"

// GeneratedContent is the lesson text generated for a topic.
type GeneratedContent struct {
	LessonID    string    `json:"lesson_id"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Question is a single multiple-choice quiz question.
type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	TopicLabel string   `json:"topic_label"`
	Options    []string `json:"options"`
}

// GeneratedQuiz is the quiz generated for a topic's lesson.
type GeneratedQuiz struct {
	Questions   []Question `json:"questions"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// QuizResult is the remote evaluation of a submitted quiz.
type QuizResult struct {
	ScoreLabel     string   `json:"score_label"`
	ScorePercent   int      `json:"score_percent"`
	CorrectCount   int      `json:"correct_count"`
	TotalQuestions int      `json:"total_questions"`
	WeakAreas      []string `json:"weak_areas"`
}

// VideoStatus is the lifecycle state of a remote video synthesis job.
type VideoStatus string

const (
	VideoPending    VideoStatus = "pending"
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s VideoStatus) Terminal() bool {
	return s == VideoCompleted || s == VideoFailed
}

// CanTransition reports whether a task may move from s to next.
// Repeating a non-terminal status is allowed; going back to pending is not.
func (s VideoStatus) CanTransition(next VideoStatus) bool {
	switch s {
	case VideoPending:
		return next == VideoPending || next == VideoProcessing || next.Terminal()
	case VideoProcessing:
		return next == VideoProcessing || next.Terminal()
	default:
		return false
	}
}

// VideoTask tracks the single live video job for a topic.
type VideoTask struct {
	TaskID   string      `json:"task_id"`
	Status   VideoStatus `json:"status"`
	VideoURL string      `json:"video_url,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ResourceType classifies a lesson resource.
type ResourceType string

const (
	ResourceVideo ResourceType = "video"
	ResourceAudio ResourceType = "audio"
	ResourceNotes ResourceType = "notes"
)

// Resource is a generated or authored artifact attached to a lesson.
type Resource struct {
	ID        string       `json:"id"`
	LessonID  string       `json:"lesson_id"`
	Type      ResourceType `json:"resource_type"`
	Title     string       `json:"title"`
	FileURL   string       `json:"file,omitempty"`
	Content   string       `json:"content,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// RemediationNote is supplementary material for a weak area.
type RemediationNote struct {
	SubTopic string `json:"sub_topic"`
	Content  string `json:"content"`
}
