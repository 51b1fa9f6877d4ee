package server

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/report"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"enrollments": s.sessions.Enrollments()})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Outline())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Close(id) {
		writeErrorCode(w, http.StatusNotFound, "unknown_enrollment", "unknown enrollment: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Outline())
}

func (s *Server) handleRefreshSyllabus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	accepted(w, sess.Orchestrator().FetchSyllabus(sess.EnrollmentID()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	accepted(w, sess.Reset(r.Context()))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, sess.Outline()); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="progress-%s.xlsx"`, sess.EnrollmentID()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// topicResponse is everything the UI shows for one topic.
type topicResponse struct {
	Topic        progress.OutlineTopic      `json:"topic"`
	Unlocked     bool                       `json:"unlocked"`
	Presentation progress.Presentation      `json:"presentation"`
	Quiz         *progress.GeneratedQuiz    `json:"quiz,omitempty"`
	Result       *progress.QuizResult       `json:"result,omitempty"`
	Remediation  []progress.RemediationNote `json:"remediation,omitempty"`
	Resources    []progress.Resource        `json:"resources"`
	Watching     bool                       `json:"watching"`
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	st := tr.session.State()
	outline := progress.BuildOutline(st, tr.session.Gate())
	// The syllabus may have been replaced since the route was resolved.
	if tr.key.Module >= len(outline.Modules) || tr.key.Topic >= len(outline.Modules[tr.key.Module].Topics) {
		writeErrorCode(w, http.StatusNotFound, "unknown_topic", "topic not in syllabus: "+tr.key.String())
		return
	}
	m := outline.Modules[tr.key.Module]

	resp := topicResponse{
		Topic:        m.Topics[tr.key.Topic],
		Unlocked:     m.Unlocked,
		Presentation: progress.Present(st, tr.key),
		Remediation:  st.Remediation[tr.key],
		Resources:    st.LessonResources(tr.key),
		Watching:     tr.session.Watching(tr.key),
	}
	if resp.Resources == nil {
		resp.Resources = []progress.Resource{}
	}
	if q, ok := st.Quizzes[tr.key]; ok {
		resp.Quiz = &q
	}
	if res, ok := st.QuizResults[tr.key]; ok {
		resp.Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	if err := tr.session.Navigate(tr.key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr.session.Present(tr.key))
}

func (s *Server) handleToggleCompletion(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	if err := tr.session.ToggleCompletion(tr.key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": tr.session.State().Completed[tr.key]})
}

type setViewRequest struct {
	View       progress.ViewType `json:"view"`
	ResourceID string            `json:"resource_id"`
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	var req setViewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.ResourceID != "":
		err = tr.session.ShowResource(tr.key, req.ResourceID)
	case req.View == "" || req.View == progress.ViewReading:
		err = tr.session.ShowReading(tr.key)
	case req.View == progress.ViewCreateNote:
		err = tr.session.ShowCreateNote(tr.key)
	default:
		writeErrorCode(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("view %q needs a resource_id", req.View))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr.session.Present(tr.key))
}

type generateContentRequest struct {
	Regenerate bool `json:"regenerate"`
}

func (s *Server) handleGenerateContent(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	var req generateContentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accepted(w, tr.session.Orchestrator().GenerateContent(tr.key, req.Regenerate))
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	accepted(w, tr.session.Orchestrator().GenerateQuiz(tr.key))
}

type evaluateQuizRequest struct {
	Answers []int `json:"answers"`
}

func (s *Server) handleEvaluateQuiz(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	var req evaluateQuizRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accepted(w, tr.session.Orchestrator().EvaluateQuiz(tr.key, req.Answers))
}

func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	accepted(w, tr.session.Orchestrator().GenerateVideo(tr.key))
}

// handlePollVideo polls the video job once and returns the stored task.
func (s *Server) handlePollVideo(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	task, err := tr.session.Orchestrator().PollVideo(r.Context(), tr.key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleFetchResources(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	accepted(w, tr.session.Orchestrator().FetchResources(tr.key))
}

type remediationRequest struct {
	WeakAreas []string `json:"weak_areas"`
}

func (s *Server) handleGenerateRemediation(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	var req remediationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accepted(w, tr.session.Orchestrator().GenerateRemediation(tr.key, req.WeakAreas))
}

type createNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request, tr topicRequest) {
	var req createNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accepted(w, tr.session.Orchestrator().CreateNote(tr.key, req.Title, req.Content))
}
