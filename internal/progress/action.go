package progress

import "github.com/p-n-ai/pai-learn/internal/curriculum"

// Phase is the stage of a remote request an action reports.
type Phase int

const (
	Requested Phase = iota
	Succeeded
	Failed
	// Cancelled settles a request the caller abandoned. No error is recorded.
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Requested:
		return "requested"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is embedded in every remote action. Seq ties a completion to the
// request that produced it.
type Outcome struct {
	Phase Phase
	Seq   uint64
	Err   string
}

// Action is one of the closed set of state transitions defined in this package.
type Action interface {
	Name() string
	isAction()
}

// RemoteAction is an Action that reports a phase of a tracked remote request.
type RemoteAction interface {
	Action
	OpKey() OpKey
	Result() Outcome
}

// FetchSyllabus reports the syllabus fetch for an enrollment.
type FetchSyllabus struct {
	Outcome
	EnrollmentID string
	CourseName   string
	Syllabus     curriculum.Syllabus
}

// GenerateContent reports lesson generation for a topic.
type GenerateContent struct {
	Outcome
	Key     curriculum.TopicKey
	Content GeneratedContent
}

// GenerateQuiz reports quiz generation for a topic.
type GenerateQuiz struct {
	Outcome
	Key  curriculum.TopicKey
	Quiz GeneratedQuiz
}

// EvaluateQuiz reports quiz evaluation for a topic. Passed marks the topic
// complete when the evaluation succeeds.
type EvaluateQuiz struct {
	Outcome
	Key    curriculum.TopicKey
	Result QuizResult
	Passed bool
}

// GenerateVideo reports the start of a video synthesis job.
type GenerateVideo struct {
	Outcome
	Key    curriculum.TopicKey
	TaskID string
}

// PollVideoStatus reports one status query for a video job.
type PollVideoStatus struct {
	Outcome
	Key      curriculum.TopicKey
	TaskID   string
	Status   VideoStatus
	VideoURL string
	JobError string
}

// FetchResources reports the resource listing of a lesson.
type FetchResources struct {
	Outcome
	Key       curriculum.TopicKey
	LessonID  string
	Resources []Resource
}

// GenerateRemediation reports remediation generation for a topic.
type GenerateRemediation struct {
	Outcome
	Key   curriculum.TopicKey
	Notes []RemediationNote
}

// CreateNote reports the creation of a note on a topic's lesson.
type CreateNote struct {
	Outcome
	Key      curriculum.TopicKey
	Resource Resource
}

// ToggleCompletion flips the completion flag of a topic.
type ToggleCompletion struct {
	Key curriculum.TopicKey
}

// SetActiveView selects what is presented for a topic. A zero View resets to reading.
type SetActiveView struct {
	Key  curriculum.TopicKey
	View ActiveView
}

// Clear drops all state.
type Clear struct{}

func (FetchSyllabus) Name() string       { return "fetch-syllabus" }
func (GenerateContent) Name() string     { return "generate-content" }
func (GenerateQuiz) Name() string        { return "generate-quiz" }
func (EvaluateQuiz) Name() string        { return "evaluate-quiz" }
func (GenerateVideo) Name() string       { return "generate-video" }
func (PollVideoStatus) Name() string     { return "poll-video-status" }
func (FetchResources) Name() string      { return "fetch-resources" }
func (GenerateRemediation) Name() string { return "generate-remediation" }
func (CreateNote) Name() string          { return "create-note" }
func (ToggleCompletion) Name() string    { return "toggle-completion" }
func (SetActiveView) Name() string       { return "set-active-view" }
func (Clear) Name() string               { return "clear" }

func (FetchSyllabus) isAction()       {}
func (GenerateContent) isAction()     {}
func (GenerateQuiz) isAction()        {}
func (EvaluateQuiz) isAction()        {}
func (GenerateVideo) isAction()       {}
func (PollVideoStatus) isAction()     {}
func (FetchResources) isAction()      {}
func (GenerateRemediation) isAction() {}
func (CreateNote) isAction()          {}
func (ToggleCompletion) isAction()    {}
func (SetActiveView) isAction()       {}
func (Clear) isAction()               {}

func (a FetchSyllabus) OpKey() OpKey {
	return OpKey{Op: OpFetchSyllabus, Key: curriculum.EnrollmentKey(a.EnrollmentID)}
}
func (a GenerateContent) OpKey() OpKey     { return OpKey{Op: OpGenerateContent, Key: a.Key} }
func (a GenerateQuiz) OpKey() OpKey        { return OpKey{Op: OpGenerateQuiz, Key: a.Key} }
func (a EvaluateQuiz) OpKey() OpKey        { return OpKey{Op: OpEvaluateQuiz, Key: a.Key} }
func (a GenerateVideo) OpKey() OpKey       { return OpKey{Op: OpGenerateVideo, Key: a.Key} }
func (a PollVideoStatus) OpKey() OpKey     { return OpKey{Op: OpPollVideo, Key: a.Key} }
func (a FetchResources) OpKey() OpKey      { return OpKey{Op: OpFetchResources, Key: a.Key} }
func (a GenerateRemediation) OpKey() OpKey { return OpKey{Op: OpGenerateRemediation, Key: a.Key} }
func (a CreateNote) OpKey() OpKey          { return OpKey{Op: OpCreateNote, Key: a.Key} }

func (o Outcome) Result() Outcome { return o }
