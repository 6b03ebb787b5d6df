package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docquery/internal/chunker"
	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/qa"
	"github.com/dgallion1/docquery/internal/router"
	"github.com/dgallion1/docquery/internal/synth"
)

var quiet = slog.New(slog.DiscardHandler)

const bill = "Part 1 Preliminary\n\nThis Act may be cited as the Appropriation Act. It commences on assent.\n\n" +
	"Part 2 Administration\n\nThe Secretary administers the scheme. The Secretary may delegate powers.\n\n" +
	"Part 3 Grants\n\nFunding is provided to the States each year. Funding rises with inflation.\n\n" +
	"Part 4 Reporting\n\nThe Minister must table an Annual Report. The report covers outcomes.\n\n" +
	"Part 5 Miscellaneous\n\nThe Governor-General may make regulations. Regulations are disallowable.\n"

func chunkBill(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	c := Chunk(bill, "bill.txt", chunker.Config{MaxUnits: 30, OverlapUnits: 2, Strategy: chunker.StrategyStructure}, quiet)
	require.Equal(t, 5, c.Index.TotalSegments)
	require.NoError(t, c.Save(dir))
	return dir
}

func openBill(t *testing.T, dir string, gen llm.Generator) *Engine {
	t.Helper()
	e, err := Open(DefaultConfig(dir), gen, WithLogger(quiet))
	require.NoError(t, err)
	return e
}

func TestQuery_RoutesToFundingSegment(t *testing.T) {
	e := openBill(t, chunkBill(t), llm.NewStub())

	ans := e.Query(context.Background(), "What does Part 3 say about funding?", QueryOptions{})
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, 3, ans.Sources[0].Number)
	assert.Equal(t, []string{"Part 3 Grants"}, ans.Sources[0].Sections)
	assert.Equal(t, 1, ans.SegmentsQueried)
	assert.Contains(t, ans.Answer, "[1] Segment 3")
	assert.Contains(t, ans.Answer, "Source: Segment 3")
	assert.Equal(t, 1.0, ans.Confidence)
	assert.Equal(t, "keyword", ans.RoutingStrategy)
	assert.Equal(t, "concatenate", ans.SynthesisStrategy)
	assert.Positive(t, ans.TotalElapsed)
	assert.Equal(t, 1, e.Stats().Snapshot().Count)
}

func TestQuery_HighThresholdGivesNoRelevantInfo(t *testing.T) {
	e := openBill(t, chunkBill(t), llm.NewStub())
	high := 0.99

	ans := e.Query(context.Background(), "Tell me about things in general", QueryOptions{Threshold: &high})
	assert.Equal(t, synth.NoRelevantInfo, ans.Answer)
	assert.Zero(t, ans.Confidence)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, ans.SegmentsQueried)
}

func TestQuery_ComprehensiveVisitsEverySegmentInOrder(t *testing.T) {
	e := openBill(t, chunkBill(t), llm.NewStub())

	var progress atomic.Int64
	ans := e.Query(context.Background(), "xyzzy", QueryOptions{
		Routing:  router.StrategyComprehensive,
		Observer: qa.ObserverFunc(func(int, int, string) { progress.Add(1) }),
	})
	require.Len(t, ans.Results, 5)
	for i, r := range ans.Results {
		assert.Equal(t, i+1, r.Segment.Number)
		assert.True(t, r.OK())
	}
	assert.Len(t, ans.Sources, 5)
	assert.Equal(t, int64(5), progress.Load())
	assert.Equal(t, "comprehensive", ans.RoutingStrategy)
}

func TestQuery_FallbackWarnings(t *testing.T) {
	e := openBill(t, chunkBill(t), llm.NewStub())

	ans := e.Query(context.Background(), "How is funding indexed?", QueryOptions{
		Routing:   router.StrategySemantic,
		Synthesis: synth.StrategySummarize,
	})
	assert.Equal(t, "keyword", ans.RoutingStrategy)
	require.Len(t, ans.Warnings, 2)
	assert.Contains(t, ans.Warnings[0], "semantic")
	assert.Contains(t, ans.Warnings[1], "summarize")
}

func TestQuery_MissingBodyIsRecoverable(t *testing.T) {
	dir := chunkBill(t)
	require.NoError(t, os.Remove(filepath.Join(dir, index.SegmentDir, "segment_002.txt")))
	e := openBill(t, dir, llm.NewStub())

	ans := e.Query(context.Background(), "anything", QueryOptions{Routing: router.StrategyComprehensive})
	require.Len(t, ans.Results, 5)
	assert.False(t, ans.Results[1].OK())
	assert.Contains(t, ans.Results[1].Answer, "segment_002.txt")
	assert.Len(t, ans.Sources, 4)
	assert.NotContains(t, ans.Answer, "Source: Segment 2,")
}

type blockingGen struct{}

func (blockingGen) Name() string { return "blocking" }

func (blockingGen) Generate(ctx context.Context, _ string, _ llm.Options) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestQuery_OverallTimeoutPropagates(t *testing.T) {
	dir := chunkBill(t)
	cfg := DefaultConfig(dir)
	cfg.QueryTimeout = 50 * time.Millisecond
	e, err := Open(cfg, blockingGen{}, WithLogger(quiet))
	require.NoError(t, err)

	start := time.Now()
	ans := e.Query(context.Background(), "anything", QueryOptions{Routing: router.StrategyComprehensive})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, synth.NoRelevantInfo, ans.Answer)
	for _, r := range ans.Results {
		assert.False(t, r.OK())
	}
}

func TestOpen_MissingIndex(t *testing.T) {
	_, err := Open(DefaultConfig(t.TempDir()), llm.NewStub(), WithLogger(quiet))
	require.Error(t, err)
	assert.True(t, errors.Is(err, index.ErrIndexNotFound))
}

func TestOpen_ExplicitIndexPath(t *testing.T) {
	dir := chunkBill(t)
	moved := filepath.Join(t.TempDir(), "custom.json")
	data, err := os.ReadFile(filepath.Join(dir, index.IndexFileName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(moved, data, 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, index.IndexFileName)))

	cfg := DefaultConfig(dir)
	cfg.IndexPath = moved
	e, err := Open(cfg, llm.NewStub(), WithLogger(quiet))
	require.NoError(t, err)
	assert.Equal(t, "bill.txt", e.Index().DocumentName)
	assert.Equal(t, "stub", e.Generator())
}

func TestChunk_BodiesCarryContinuation(t *testing.T) {
	c := Chunk(bill, "bill.txt", chunker.Config{MaxUnits: 30, OverlapUnits: 5, Strategy: chunker.StrategyStructure}, quiet)
	require.Len(t, c.Bodies, 5)
	assert.Contains(t, c.Bodies[0], chunker.ContinuationMarker+"Part 2")
	assert.False(t, strings.Contains(c.Bodies[4], chunker.ContinuationMarker))
	assert.Equal(t, "structure", c.Index.Strategy)
}
