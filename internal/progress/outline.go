package progress

import "github.com/p-n-ai/pai-learn/internal/curriculum"

// Outline is the presentation view of a course: what the UI reads.
type Outline struct {
	EnrollmentID   string          `json:"enrollment_id"`
	CourseName     string          `json:"course_name"`
	KnowledgeLevel string          `json:"knowledge_level,omitempty"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
	Modules        []OutlineModule `json:"modules"`
	CompletedCount int             `json:"completed_count"`
	TopicCount     int             `json:"topic_count"`
}

// OutlineModule summarizes one module.
type OutlineModule struct {
	Index     int            `json:"index"`
	Name      string         `json:"name"`
	Unlocked  bool           `json:"unlocked"`
	BestScore *int           `json:"best_score,omitempty"`
	Topics    []OutlineTopic `json:"topics"`
}

// OutlineTopic summarizes one topic.
type OutlineTopic struct {
	Index     int               `json:"index"`
	Key       string            `json:"key"`
	Name      string            `json:"name"`
	Completed bool              `json:"completed"`
	Mastered  bool              `json:"mastered"`
	Score     *int              `json:"score,omitempty"`
	LessonID  string            `json:"lesson_id,omitempty"`
	HasQuiz   bool              `json:"has_quiz"`
	Video     *VideoTask        `json:"video,omitempty"`
	View      ActiveView        `json:"view"`
	Resources int               `json:"resources"`
	Loading   []string          `json:"loading,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

var topicOperations = []Operation{
	OpGenerateContent,
	OpGenerateQuiz,
	OpEvaluateQuiz,
	OpGenerateVideo,
	OpPollVideo,
	OpFetchResources,
	OpGenerateRemediation,
	OpCreateNote,
}

// BuildOutline derives the course outline from state.
func BuildOutline(s State, g Gate) Outline {
	enrollKey := curriculum.EnrollmentKey(s.EnrollmentID)
	o := Outline{
		EnrollmentID: s.EnrollmentID,
		CourseName:   s.CourseName,
		Loading:      s.Loading(OpFetchSyllabus, enrollKey),
		Error:        s.Error(OpFetchSyllabus, enrollKey),
		Modules:      []OutlineModule{},
	}
	if s.Syllabus == nil {
		return o
	}
	o.KnowledgeLevel = s.Syllabus.KnowledgeLevel

	for mi, m := range s.Syllabus.Modules {
		om := OutlineModule{
			Index:    mi,
			Name:     m.Name,
			Unlocked: g.IsModuleUnlocked(s, mi),
			Topics:   make([]OutlineTopic, 0, len(m.Topics)),
		}
		if best, ok := g.BestModuleScore(s, mi); ok {
			om.BestScore = &best
		}
		for ti, t := range m.Topics {
			key := s.TopicKey(mi, ti)
			om.Topics = append(om.Topics, buildTopic(s, g, key, ti, t))
			o.TopicCount++
			if s.Completed[key] {
				o.CompletedCount++
			}
		}
		o.Modules = append(o.Modules, om)
	}
	return o
}

func buildTopic(s State, g Gate, key curriculum.TopicKey, index int, t curriculum.Topic) OutlineTopic {
	ot := OutlineTopic{
		Index:     index,
		Key:       key.String(),
		Name:      t.Name,
		Completed: s.Completed[key],
		Mastered:  g.TopicMastered(s, key),
		View:      Present(s, key).View,
		Resources: len(s.LessonResources(key)),
	}
	if r, ok := s.QuizResults[key]; ok {
		score := r.ScorePercent
		ot.Score = &score
	}
	if c, ok := s.Content[key]; ok {
		ot.LessonID = c.LessonID
	}
	_, ot.HasQuiz = s.Quizzes[key]
	if v, ok := s.Videos[key]; ok {
		ot.Video = &v
	}
	for _, op := range topicOperations {
		if s.Loading(op, key) {
			ot.Loading = append(ot.Loading, op.String())
		}
		if msg := s.Error(op, key); msg != "" {
			if ot.Errors == nil {
				ot.Errors = map[string]string{}
			}
			ot.Errors[op.String()] = msg
		}
	}
	return ot
}
