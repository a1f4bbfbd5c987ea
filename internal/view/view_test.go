package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/fruit-check/internal/fruit"
	"github.com/example/fruit-check/internal/usecase"
)

func TestBuildResultDisplayStates(t *testing.T) {
	processing := BuildResult(usecase.AnalysisResult{FruitType: fruit.Apple, Confidence: 90, Processing: true})
	require.Equal(t, DisplayProcessing, processing.Display)
	require.Empty(t, processing.Summary)

	empty := BuildResult(usecase.AnalysisResult{})
	require.Equal(t, DisplayEmpty, empty.Display)
	require.Equal(t, "❓", empty.FruitEmoji)
	require.Equal(t, "Not detected", empty.FruitName)
	require.Equal(t, "Not analyzed", empty.ConditionText)

	done := BuildResult(usecase.AnalysisResult{FruitType: fruit.Orange, Condition: fruit.Fresh, Confidence: 72})
	require.Equal(t, DisplayResult, done.Display)
	require.Equal(t, "🍊", done.FruitEmoji)
	require.Equal(t, "High", done.ConfidenceLevel)
	require.Equal(t, "Detected an orange in fresh condition with 72% confidence.", done.Summary)
}

func TestConfidenceLevelThresholds(t *testing.T) {
	cases := map[int]string{100: "Very high", 90: "Very high", 89: "High", 70: "High", 69: "Medium", 50: "Medium", 49: "Low", -3: "Low"}
	for confidence, want := range cases {
		require.Equal(t, want, ConfidenceLevel(confidence), "confidence %d", confidence)
	}
}

func TestBarIsClampedButNumberIsNot(t *testing.T) {
	got := BuildResult(usecase.AnalysisResult{FruitType: fruit.Banana, Condition: fruit.Rotten, Confidence: 120})
	require.Equal(t, 120, got.Confidence)
	require.Equal(t, 100, got.BarWidth)
	require.Contains(t, got.Summary, "Detected a banana in poor condition with 120%")
}

func TestBuildPage(t *testing.T) {
	idle := Build(&usecase.Snapshot{})
	require.Equal(t, usecase.PhaseIdle, idle.Phase)
	require.Nil(t, idle.Preview)
	require.NotNil(t, idle.Notifications)

	analyzing := Build(&usecase.Snapshot{
		Image:  &usecase.SelectedImage{Name: "a.png", ContentType: "image/png", Data: []byte{0}, PreviewReady: true},
		Result: usecase.AnalysisResult{Processing: true},
	})
	require.Equal(t, usecase.PhaseAnalyzing, analyzing.Phase)
	require.True(t, analyzing.Preview.Ready)
	require.Equal(t, "data:image/png;base64,AA==", analyzing.Preview.DataURL)
	require.False(t, analyzing.Preview.CanAnalyze)

	pending := Build(&usecase.Snapshot{Image: &usecase.SelectedImage{Name: "a.png"}})
	require.False(t, pending.Preview.Ready)
	require.Empty(t, pending.Preview.DataURL)
	require.True(t, pending.Preview.CanAnalyze)
}
