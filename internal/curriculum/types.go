// Package curriculum defines the syllabus tree produced by the planning service
// and the addressing scheme for per-topic learning state.
package curriculum

// Syllabus is the ordered tree of modules and topics generated for an enrollment.
// It is immutable once fetched and replaced wholesale on re-fetch.
type Syllabus struct {
	CourseName     string   `json:"course_name" yaml:"course_name"`
	KnowledgeLevel string   `json:"knowledge_level" yaml:"knowledge_level"`
	Modules        []Module `json:"modules" yaml:"modules"`
}

// Module is a syllabus level identified by its index within Syllabus.Modules.
// Order is display metadata only.
type Module struct {
	Order                    int     `json:"order" yaml:"order"`
	Name                     string  `json:"module_name" yaml:"module_name"`
	Description              string  `json:"description" yaml:"description"`
	DifficultyLevel          string  `json:"difficulty_level" yaml:"difficulty_level"`
	EstimatedDurationMinutes int     `json:"estimated_duration_minutes" yaml:"estimated_duration_minutes"`
	Topics                   []Topic `json:"topics" yaml:"topics"`
}

// Topic is the unit of content generation and completion.
type Topic struct {
	Order       int    `json:"order" yaml:"order"`
	Name        string `json:"topic_name" yaml:"topic_name"`
	Description string `json:"description" yaml:"description"`
}

// Module returns the module at index i.
func (s *Syllabus) Module(i int) (Module, bool) {
	if s == nil || i < 0 || i >= len(s.Modules) {
		return Module{}, false
	}
	return s.Modules[i], true
}

// Topic returns the topic addressed by the module and topic indices of key.
func (s *Syllabus) Topic(key TopicKey) (Topic, bool) {
	m, ok := s.Module(key.Module)
	if !ok || key.Topic < 0 || key.Topic >= len(m.Topics) {
		return Topic{}, false
	}
	return m.Topics[key.Topic], true
}

// TopicCount returns the number of topics across all modules.
func (s *Syllabus) TopicCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.Modules {
		n += len(m.Topics)
	}
	return n
}
