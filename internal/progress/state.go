package progress

import (
	"maps"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

// Operation names a remote capability whose requests are tracked in State.
type Operation int

const (
	OpFetchSyllabus Operation = iota
	OpGenerateContent
	OpGenerateQuiz
	OpEvaluateQuiz
	OpGenerateVideo
	OpPollVideo
	OpFetchResources
	OpGenerateRemediation
	OpCreateNote
)

func (o Operation) String() string {
	switch o {
	case OpFetchSyllabus:
		return "fetch_syllabus"
	case OpGenerateContent:
		return "generate_content"
	case OpGenerateQuiz:
		return "generate_quiz"
	case OpEvaluateQuiz:
		return "evaluate_quiz"
	case OpGenerateVideo:
		return "generate_video"
	case OpPollVideo:
		return "poll_video"
	case OpFetchResources:
		return "fetch_resources"
	case OpGenerateRemediation:
		return "generate_remediation"
	case OpCreateNote:
		return "create_note"
	default:
		return "unknown"
	}
}

// OpKey identifies one operation on one topic. Loading flags and errors are
// tracked per OpKey.
type OpKey struct {
	Op  Operation
	Key curriculum.TopicKey
}

// State is the complete progression state for a learner session.
// Maps are never mutated after a State is published; Apply copies the maps it
// changes, so a State obtained from Store.State is safe to read concurrently.
type State struct {
	EnrollmentID string
	CourseName   string
	Syllabus     *curriculum.Syllabus

	Completed   map[curriculum.TopicKey]bool
	Content     map[curriculum.TopicKey]GeneratedContent
	Quizzes     map[curriculum.TopicKey]GeneratedQuiz
	QuizResults map[curriculum.TopicKey]QuizResult
	Videos      map[curriculum.TopicKey]VideoTask
	Remediation map[curriculum.TopicKey][]RemediationNote
	Views       map[curriculum.TopicKey]ActiveView

	// Resources are owned by lessons, not topics.
	Resources map[string][]Resource

	// InFlight holds the sequence number of the latest request issued per
	// operation and topic. Presence means loading.
	InFlight map[OpKey]uint64
	Errors   map[OpKey]string
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Completed:   map[curriculum.TopicKey]bool{},
		Content:     map[curriculum.TopicKey]GeneratedContent{},
		Quizzes:     map[curriculum.TopicKey]GeneratedQuiz{},
		QuizResults: map[curriculum.TopicKey]QuizResult{},
		Videos:      map[curriculum.TopicKey]VideoTask{},
		Remediation: map[curriculum.TopicKey][]RemediationNote{},
		Views:       map[curriculum.TopicKey]ActiveView{},
		Resources:   map[string][]Resource{},
		InFlight:    map[OpKey]uint64{},
		Errors:      map[OpKey]string{},
	}
}

// Loading reports whether a request for op on key is outstanding.
func (s State) Loading(op Operation, key curriculum.TopicKey) bool {
	_, ok := s.InFlight[OpKey{Op: op, Key: key}]
	return ok
}

// Error returns the last error message recorded for op on key.
func (s State) Error(op Operation, key curriculum.TopicKey) string {
	return s.Errors[OpKey{Op: op, Key: key}]
}

// TopicKey builds a key for a topic in the state's enrollment.
func (s State) TopicKey(module, topic int) curriculum.TopicKey {
	return curriculum.NewTopicKey(s.EnrollmentID, module, topic)
}

// LessonResources returns the resources of the lesson generated for key.
func (s State) LessonResources(key curriculum.TopicKey) []Resource {
	c, ok := s.Content[key]
	if !ok {
		return nil
	}
	return s.Resources[c.LessonID]
}

func with[K comparable, V any](m map[K]V, k K, v V) map[K]V {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[K]V, 1)
	}
	out[k] = v
	return out
}

func without[K comparable, V any](m map[K]V, k K) map[K]V {
	if _, ok := m[k]; !ok {
		return m
	}
	out := maps.Clone(m)
	delete(out, k)
	return out
}
