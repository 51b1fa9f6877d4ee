package curriculum_test

import (
	"encoding/json"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

func TestDecodeSyllabus(t *testing.T) {
	raw := json.RawMessage(`{
		"course_name": "Go",
		"knowledge_level": "intermediate",
		"modules": [
			{"order": 1, "module_name": "Basics", "topics": [
				{"order": 1, "topic_name": "Types"},
				{"order": 2, "topic_name": "Interfaces"}
			]},
			{"order": 2, "module_name": "Concurrency", "topics": []}
		]
	}`)

	s, err := curriculum.DecodeSyllabus(raw)
	if err != nil {
		t.Fatalf("DecodeSyllabus() error = %v", err)
	}
	if s.CourseName != "Go" {
		t.Errorf("CourseName = %q, want Go", s.CourseName)
	}
	if s.TopicCount() != 2 {
		t.Errorf("TopicCount() = %d, want 2", s.TopicCount())
	}
	topic, ok := s.Topic(curriculum.NewTopicKey("e", 0, 1))
	if !ok || topic.Name != "Interfaces" {
		t.Errorf("Topic(0,1) = %+v, %v", topic, ok)
	}
	if _, ok := s.Topic(curriculum.NewTopicKey("e", 1, 0)); ok {
		t.Error("Topic(1,0) should not exist in an empty module")
	}
}

func TestValidateSyllabus_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"no-modules", `{"course_name": "Go"}`},
		{"module-without-name", `{"modules": [{"topics": []}]}`},
		{"topic-without-name", `{"modules": [{"module_name": "A", "topics": [{"order": 1}]}]}`},
		{"negative-duration", `{"modules": [{"module_name": "A", "estimated_duration_minutes": -5, "topics": []}]}`},
		{"not-json", `{modules`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := curriculum.ValidateSyllabus(json.RawMessage(tt.raw)); err == nil {
				t.Error("ValidateSyllabus() should fail")
			}
		})
	}
}
