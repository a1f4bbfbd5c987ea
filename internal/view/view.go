package view

import (
	"fmt"
	"strings"

	"github.com/example/fruit-check/internal/fruit"
	"github.com/example/fruit-check/internal/usecase"
)

// Display states of the result panel.
const (
	DisplayProcessing = "processing"
	DisplayEmpty      = "empty"
	DisplayResult     = "result"
)

// Page is everything the page and the JSON API render for one session.
type Page struct {
	Phase         usecase.Phase          `json:"phase"`
	Preview       *Preview               `json:"preview,omitempty"`
	Result        Result                 `json:"result"`
	Notifications []usecase.Notification `json:"notifications"`
}

// Preview is the selected image panel. CanAnalyze is false while a request is in flight.
type Preview struct {
	Name       string `json:"name"`
	DataURL    string `json:"data_url,omitempty"`
	Ready      bool   `json:"ready"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	CanAnalyze bool   `json:"can_analyze"`
}

// Result is the formatted result panel.
type Result struct {
	Display         string          `json:"display"`
	FruitType       fruit.Type      `json:"fruit_type,omitempty"`
	FruitEmoji      string          `json:"fruit_emoji"`
	FruitName       string          `json:"fruit_name"`
	Condition       fruit.Condition `json:"condition,omitempty"`
	ConditionText   string          `json:"condition_text"`
	Confidence      int             `json:"confidence"`
	ConfidenceLevel string          `json:"confidence_level,omitempty"`
	BarWidth        int             `json:"bar_width"`
	Summary         string          `json:"summary,omitempty"`
}

// Build renders a session snapshot.
func Build(snap *usecase.Snapshot) Page {
	page := Page{
		Phase:         snap.Phase(),
		Result:        BuildResult(snap.Result),
		Notifications: snap.Notifications,
	}
	if page.Notifications == nil {
		page.Notifications = []usecase.Notification{}
	}
	if img := snap.Image; img != nil {
		page.Preview = &Preview{
			Name:       img.Name,
			Ready:      img.PreviewReady,
			Width:      img.Width,
			Height:     img.Height,
			CanAnalyze: !snap.Result.Processing,
		}
		if img.PreviewReady {
			page.Preview.DataURL = usecase.EncodePreview(img.ContentType, img.Data)
		}
	}
	return page
}

// BuildResult formats an analysis result for display.
func BuildResult(r usecase.AnalysisResult) Result {
	out := Result{
		FruitType:     r.FruitType,
		FruitEmoji:    FruitEmoji(r.FruitType),
		FruitName:     FruitName(r.FruitType),
		Condition:     r.Condition,
		ConditionText: ConditionText(r.Condition),
		Confidence:    r.Confidence,
		BarWidth:      clampPercent(r.Confidence),
	}

	switch {
	case r.Processing:
		out.Display = DisplayProcessing
	case !r.HasResult():
		out.Display = DisplayEmpty
	default:
		out.Display = DisplayResult
		out.ConfidenceLevel = ConfidenceLevel(r.Confidence)
		out.Summary = summary(r)
	}
	return out
}

// FruitEmoji is the icon shown next to the fruit name.
func FruitEmoji(t fruit.Type) string {
	switch t {
	case fruit.Apple:
		return "🍎"
	case fruit.Orange:
		return "🍊"
	case fruit.Banana:
		return "🍌"
	default:
		return "❓"
	}
}

// FruitName is the display name of t, or "Not detected" when unset.
func FruitName(t fruit.Type) string {
	switch t {
	case fruit.Apple:
		return "Apple"
	case fruit.Orange:
		return "Orange"
	case fruit.Banana:
		return "Banana"
	default:
		return "Not detected"
	}
}

// ConditionText is the display label of c, or "Not analyzed" when unset.
func ConditionText(c fruit.Condition) string {
	switch c {
	case fruit.Fresh:
		return "Fresh"
	case fruit.Rotten:
		return "Rotten"
	default:
		return "Not analyzed"
	}
}

// ConfidenceLevel buckets a percentage into a coarse label.
func ConfidenceLevel(confidence int) string {
	switch {
	case confidence >= 90:
		return "Very high"
	case confidence >= 70:
		return "High"
	case confidence >= 50:
		return "Medium"
	default:
		return "Low"
	}
}

func summary(r usecase.AnalysisResult) string {
	state := "poor"
	if r.Condition == fruit.Fresh {
		state = "fresh"
	}
	name := strings.ToLower(FruitName(r.FruitType))
	article := "a"
	if strings.ContainsRune("aeiou", rune(name[0])) {
		article = "an"
	}
	return fmt.Sprintf("Detected %s %s in %s condition with %d%% confidence.", article, name, state, r.Confidence)
}

// Only the bar is clamped; the number shown stays as reported.
func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
