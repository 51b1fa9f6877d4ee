package curriculum

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicKey addresses all per-topic state. Keys are compared structurally, so
// identical indices under different enrollments never collide.
type TopicKey struct {
	EnrollmentID string
	Module       int
	Topic        int
}

// NewTopicKey builds the key for a topic within an enrollment.
func NewTopicKey(enrollmentID string, module, topic int) TopicKey {
	return TopicKey{EnrollmentID: enrollmentID, Module: module, Topic: topic}
}

// EnrollmentKey is the key used for enrollment-wide operations such as fetching
// the syllabus. It never addresses a real topic.
func EnrollmentKey(enrollmentID string) TopicKey {
	return TopicKey{EnrollmentID: enrollmentID, Module: -1, Topic: -1}
}

// IsTopic reports whether the key addresses a topic rather than a whole enrollment.
func (k TopicKey) IsTopic() bool {
	return k.Module >= 0 && k.Topic >= 0
}

// String renders the key as "module:topic:enrollment". The enrollment id goes
// last so it may itself contain separators.
func (k TopicKey) String() string {
	return strconv.Itoa(k.Module) + ":" + strconv.Itoa(k.Topic) + ":" + k.EnrollmentID
}

// MarshalText lets keys be used as JSON object keys.
func (k TopicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the form produced by String.
func (k *TopicKey) UnmarshalText(text []byte) error {
	parsed, err := ParseTopicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseTopicKey parses a key rendered by TopicKey.String.
func ParseTopicKey(s string) (TopicKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return TopicKey{}, fmt.Errorf("invalid topic key %q", s)
	}
	module, err := strconv.Atoi(parts[0])
	if err != nil {
		return TopicKey{}, fmt.Errorf("invalid module index in topic key %q: %w", s, err)
	}
	topic, err := strconv.Atoi(parts[1])
	if err != nil {
		return TopicKey{}, fmt.Errorf("invalid topic index in topic key %q: %w", s, err)
	}
	if parts[2] == "" {
		return TopicKey{}, fmt.Errorf("missing enrollment in topic key %q", s)
	}
	return TopicKey{EnrollmentID: parts[2], Module: module, Topic: topic}, nil
}
