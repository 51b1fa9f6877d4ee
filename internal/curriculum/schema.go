package curriculum

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// syllabusSchema describes the minimum shape of a syllabus returned by the
// planning service.
const syllabusSchema = `{
  "type": "object",
  "required": ["modules"],
  "properties": {
    "course_name": {"type": "string"},
    "knowledge_level": {"type": "string"},
    "modules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["module_name", "topics"],
        "properties": {
          "order": {"type": "integer"},
          "module_name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "difficulty_level": {"type": "string"},
          "estimated_duration_minutes": {"type": "integer", "minimum": 0},
          "topics": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["topic_name"],
              "properties": {
                "order": {"type": "integer"},
                "topic_name": {"type": "string", "minLength": 1},
                "description": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSyllabusSchema = mustCompile(syllabusSchema)

func mustCompile(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile syllabus schema: %v", err))
	}
	return s
}

// ValidateSyllabus checks raw syllabus JSON against the schema.
func ValidateSyllabus(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("syllabus is empty")
	}
	result, err := compiledSyllabusSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate syllabus: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid syllabus: %s", strings.Join(msgs, "; "))
}

// DecodeSyllabus validates raw JSON and decodes it.
func DecodeSyllabus(raw json.RawMessage) (Syllabus, error) {
	if err := ValidateSyllabus(raw); err != nil {
		return Syllabus{}, err
	}
	var s Syllabus
	if err := json.Unmarshal(raw, &s); err != nil {
		return Syllabus{}, fmt.Errorf("decode syllabus: %w", err)
	}
	return s, nil
}
