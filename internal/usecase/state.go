package usecase

import (
	"time"

	"github.com/example/fruit-check/internal/fruit"
)

// Phase names where a session sits in the upload → analyze flow.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhasePreviewing           Phase = "previewing"
	PhaseAnalyzing            Phase = "analyzing"
	PhasePreviewingWithResult Phase = "previewing_with_result"
)

// SelectedImage is the file chosen by the user. PreviewReady stays false until the
// asynchronous preview derivation completes; the data URL itself is built at render time.
type SelectedImage struct {
	Name         string `json:"name"`
	ContentType  string `json:"content_type"`
	Data         []byte `json:"data"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PreviewReady bool   `json:"preview_ready"`
}

// AnalysisResult is the displayed outcome. Empty FruitType and Condition mean unset.
type AnalysisResult struct {
	FruitType  fruit.Type      `json:"fruit_type,omitempty"`
	Condition  fruit.Condition `json:"condition,omitempty"`
	Confidence int             `json:"confidence"`
	Processing bool            `json:"processing"`
}

// HasResult reports whether a completed classification is being shown.
func (r AnalysisResult) HasResult() bool {
	return r.FruitType != ""
}

// Notification is a transient message for the user.
type Notification struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the whole state of one session.
type Snapshot struct {
	Image         *SelectedImage `json:"image,omitempty"`
	Result        AnalysisResult `json:"result"`
	Notifications []Notification `json:"notifications,omitempty"`

	// Generation increments on every selection and reset; Attempt on every analyze.
	// Background work only applies while both still match what it started with.
	Generation uint64 `json:"generation"`
	Attempt    uint64 `json:"attempt"`
}

// Phase derives the state-machine position from the snapshot.
func (s *Snapshot) Phase() Phase {
	switch {
	case s.Image == nil:
		return PhaseIdle
	case s.Result.Processing:
		return PhaseAnalyzing
	case s.Result.HasResult():
		return PhasePreviewingWithResult
	default:
		return PhasePreviewing
	}
}

// Clone returns a deep copy. Image bytes are shared since they are never mutated.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	out := *s
	if s.Image != nil {
		img := *s.Image
		out.Image = &img
	}
	if s.Notifications != nil {
		out.Notifications = append([]Notification(nil), s.Notifications...)
	}
	return &out
}
