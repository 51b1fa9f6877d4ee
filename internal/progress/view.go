package progress

import (
	"fmt"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

// ViewType is what is presented for a topic.
type ViewType string

const (
	ViewReading    ViewType = "reading"
	ViewVideo      ViewType = "video"
	ViewAudio      ViewType = "audio"
	ViewNotes      ViewType = "notes"
	ViewCreateNote ViewType = "create-note"
)

// ActiveView is the artifact currently presented for a topic.
type ActiveView struct {
	Type       ViewType `json:"type"`
	ResourceID string   `json:"resource_id,omitempty"`
}

// ActiveViewFor returns the view for key, defaulting to reading.
func ActiveViewFor(s State, key curriculum.TopicKey) ActiveView {
	if v, ok := s.Views[key]; ok && v.Type != "" {
		return v
	}
	return ActiveView{Type: ViewReading}
}

// ShowReading resets the topic to its lesson text.
func ShowReading(key curriculum.TopicKey) SetActiveView {
	return SetActiveView{Key: key}
}

// ShowCreateNote opens the note authoring form for a topic.
func ShowCreateNote(key curriculum.TopicKey) SetActiveView {
	return SetActiveView{Key: key, View: ActiveView{Type: ViewCreateNote}}
}

// ShowResource presents a lesson resource.
func ShowResource(key curriculum.TopicKey, r Resource) (SetActiveView, error) {
	var vt ViewType
	switch r.Type {
	case ResourceVideo:
		vt = ViewVideo
	case ResourceAudio:
		vt = ViewAudio
	case ResourceNotes:
		vt = ViewNotes
	default:
		return SetActiveView{}, fmt.Errorf("resource type %q cannot be presented", r.Type)
	}
	if r.ID == "" {
		return SetActiveView{}, fmt.Errorf("resource has no id")
	}
	return SetActiveView{Key: key, View: ActiveView{Type: vt, ResourceID: r.ID}}, nil
}

// MergeResources appends incoming resources that are not already present.
// Existing entries are never removed or modified.
func MergeResources(existing, incoming []Resource) []Resource {
	out := make([]Resource, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, r := range existing {
		out = append(out, r)
		if r.ID != "" {
			seen[r.ID] = true
		}
	}
	for _, r := range incoming {
		if r.ID != "" && seen[r.ID] {
			continue
		}
		out = append(out, r)
		if r.ID != "" {
			seen[r.ID] = true
		}
	}
	return out
}

// Presentation is the resolved artifact for a topic.
type Presentation struct {
	View     ActiveView        `json:"view"`
	Content  *GeneratedContent `json:"content,omitempty"`
	Resource *Resource         `json:"resource,omitempty"`
}

// Present resolves the active view of a topic to the artifact it shows.
// A view pointing at a resource that is no longer listed falls back to reading.
func Present(s State, key curriculum.TopicKey) Presentation {
	view := ActiveViewFor(s, key)
	p := Presentation{View: view}
	if c, ok := s.Content[key]; ok {
		p.Content = &c
	}
	if view.ResourceID == "" {
		return p
	}
	for _, r := range s.LessonResources(key) {
		if r.ID == view.ResourceID {
			p.Resource = &r
			return p
		}
	}
	p.View = ActiveView{Type: ViewReading}
	return p
}
