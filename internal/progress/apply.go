package progress

import (
	"slices"
)

// DefaultErrorMessage is stored when a remote failure carries no message.
const DefaultErrorMessage = "request failed"

// Apply folds a single action into state and returns the new state.
// The input state is never modified. The boolean is false when the action was
// discarded: a completion for a request that is no longer the latest issued
// for its operation and topic, or an update for a record that no longer exists.
func Apply(s State, a Action) (State, bool) {
	if ra, ok := a.(RemoteAction); ok {
		var step outcomeStep
		s, step = applyOutcome(s, ra.OpKey(), ra.Result())
		switch step {
		case stepStale:
			return s, false
		case stepRecorded:
			return s, true
		}
	}

	switch a := a.(type) {
	case FetchSyllabus:
		syllabus := a.Syllabus
		s.EnrollmentID = a.EnrollmentID
		s.CourseName = a.CourseName
		if s.CourseName == "" {
			s.CourseName = syllabus.CourseName
		}
		s.Syllabus = &syllabus

	case GenerateContent:
		s.Content = with(s.Content, a.Key, a.Content)

	case GenerateQuiz:
		s.Quizzes = with(s.Quizzes, a.Key, a.Quiz)

	case EvaluateQuiz:
		s.QuizResults = with(s.QuizResults, a.Key, a.Result)
		if a.Passed && !s.Completed[a.Key] {
			s.Completed = with(s.Completed, a.Key, true)
		}

	case GenerateVideo:
		s.Videos = with(s.Videos, a.Key, VideoTask{TaskID: a.TaskID, Status: VideoPending})

	case PollVideoStatus:
		current, ok := s.Videos[a.Key]
		if !ok || current.TaskID != a.TaskID || !current.Status.CanTransition(a.Status) {
			return s, false
		}
		next := VideoTask{TaskID: current.TaskID, Status: a.Status}
		switch a.Status {
		case VideoCompleted:
			next.VideoURL = a.VideoURL
		case VideoFailed:
			next.Error = a.JobError
			if next.Error == "" {
				next.Error = "video generation failed"
			}
		}
		s.Videos = with(s.Videos, a.Key, next)

	case FetchResources:
		// Resources known locally but missing from the listing, such as a note
		// created while the listing was in flight, are kept after it.
		s.Resources = with(s.Resources, a.LessonID, MergeResources(a.Resources, s.Resources[a.LessonID]))

	case GenerateRemediation:
		s.Remediation = with(s.Remediation, a.Key, slices.Clone(a.Notes))

	case CreateNote:
		lessonID := a.Resource.LessonID
		if lessonID == "" {
			if c, ok := s.Content[a.Key]; ok {
				lessonID = c.LessonID
			}
		}
		res := a.Resource
		res.LessonID = lessonID
		s.Resources = with(s.Resources, lessonID, MergeResources(s.Resources[lessonID], []Resource{res}))
		if s.Views[a.Key].Type == ViewCreateNote {
			s.Views = without(s.Views, a.Key)
		}

	case ToggleCompletion:
		if s.Completed[a.Key] {
			s.Completed = without(s.Completed, a.Key)
		} else {
			s.Completed = with(s.Completed, a.Key, true)
		}

	case SetActiveView:
		if a.View.Type == "" || a.View.Type == ViewReading {
			s.Views = without(s.Views, a.Key)
		} else {
			s.Views = with(s.Views, a.Key, a.View)
		}

	case Clear:
		return NewState(), true
	}

	return s, true
}

type outcomeStep int

const (
	stepStale outcomeStep = iota
	stepRecorded
	stepApply
)

// applyOutcome handles the bookkeeping shared by all remote actions: requests
// mark the operation in flight, failures record their message, and completions
// for anything but the latest request are stale.
func applyOutcome(s State, k OpKey, o Outcome) (State, outcomeStep) {
	switch o.Phase {
	case Requested:
		s.InFlight = with(s.InFlight, k, o.Seq)
		return s, stepRecorded
	case Succeeded, Failed, Cancelled:
		latest, ok := s.InFlight[k]
		if !ok || latest != o.Seq {
			return s, stepStale
		}
		s.InFlight = without(s.InFlight, k)
		if o.Phase == Cancelled {
			return s, stepRecorded
		}
		if o.Phase == Failed {
			msg := o.Err
			if msg == "" {
				msg = DefaultErrorMessage
			}
			s.Errors = with(s.Errors, k, msg)
			return s, stepRecorded
		}
		s.Errors = without(s.Errors, k)
		return s, stepApply
	}
	return s, stepStale
}
