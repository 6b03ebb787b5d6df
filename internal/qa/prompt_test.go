package qa

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/llm"
)

func TestBuildPrompt(t *testing.T) {
	seg := index.Segment{ID: 2, Number: 3, PageRange: "4-5", Sections: []string{"Part 3 Funding"}, Summary: "Grants are payable.", Keywords: []string{"Funding"}}
	prompt := BuildPrompt("budget.pdf", "  How much funding?  ", seg, "Body of the segment.", 100)

	assert.True(t, strings.HasPrefix(prompt, AnswerPrompt))
	assert.Contains(t, prompt, `Document: "budget.pdf"`)
	assert.Contains(t, prompt, "Body of the segment.")
	assert.True(t, strings.HasSuffix(prompt, "Question: How much funding?\n"))

	h, ok := llm.ParsePromptHeader(prompt)
	require.True(t, ok)
	assert.Equal(t, 3, h.Segment)
	assert.Equal(t, "4-5", h.Pages)
	assert.Equal(t, []string{"Part 3 Funding"}, h.Sections)
}

func TestBuildPrompt_TruncatesBody(t *testing.T) {
	body := strings.Repeat("€", 50)
	prompt := BuildPrompt("", "q", index.Segment{Number: 1}, body, 10)

	assert.Contains(t, prompt, strings.Repeat("€", 10)+truncatedMarker)
	assert.NotContains(t, prompt, strings.Repeat("€", 11))
	assert.NotContains(t, prompt, "Document:")
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "exact", truncateText("exact", 5))
	assert.Equal(t, "abc"+truncatedMarker, truncateText("abcdef", 3))
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	n := NewNotifier(ObserverFunc(func(current, _ int, _ string) {
		mu.Lock()
		got = append(got, current)
		mu.Unlock()
	}), 10)
	for i := 1; i <= 5; i++ {
		n.OnProgress(i, 5, "step")
	}
	n.Close()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Zero(t, n.Dropped())
}

func TestNotifier_SlowObserverNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Int64
	n := NewNotifier(ObserverFunc(func(int, int, string) {
		<-release
		delivered.Add(1)
	}), 2)

	start := time.Now()
	for i := range 100 {
		n.OnProgress(i, 100, "step")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, n.Dropped())

	close(release)
	n.Close()
	assert.Equal(t, int64(100)-n.Dropped(), delivered.Load())

	// Events after Close are ignored.
	n.OnProgress(1, 1, "late")
}
