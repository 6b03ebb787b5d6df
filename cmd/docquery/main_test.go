package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/synth"
	"github.com/dgallion1/docquery/internal/tokens"
)

const bill = "Part 1 Preliminary\n\nThis Act may be cited as the Appropriation Act. It commences on assent.\n\n" +
	"Part 2 Administration\n\nThe Secretary administers the scheme. The Secretary may delegate powers.\n\n" +
	"Part 3 Grants\n\nFunding is provided to the States each year. Funding rises with inflation.\n\n" +
	"Part 4 Reporting\n\nThe Minister must table an Annual Report. The report covers outcomes.\n\n" +
	"Part 5 Miscellaneous\n\nThe Governor-General may make regulations. Regulations are disallowable.\n"

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("DOCQUERY_CONFIG", "")
	t.Setenv("MODEL", "stub")
	resetFlags(rootCmd)

	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func chunkBill(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "bill.txt")
	require.NoError(t, os.WriteFile(src, []byte(bill), 0o644))
	chunks := filepath.Join(dir, "chunks")

	out, _, err := execute(t, "", "chunk", src, "--out", chunks, "--max-units", "30", "--overlap", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "bill.txt")
	assert.Contains(t, out, "structure")
	assert.FileExists(t, filepath.Join(chunks, index.IndexFileName))
	assert.FileExists(t, filepath.Join(chunks, index.SegmentDir, "segment_005.txt"))
	return chunks
}

func TestChunkThenQueryJSON(t *testing.T) {
	chunks := chunkBill(t)

	out, _, err := execute(t, "", "query", chunks, "What does Part 3 say about funding?", "--json")
	require.NoError(t, err)

	var ans synth.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &ans))
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, 3, ans.Sources[0].Number)
	assert.Equal(t, "keyword", ans.RoutingStrategy)
}

func TestQuery_HumanOutputAndFile(t *testing.T) {
	chunks := chunkBill(t)
	outFile := filepath.Join(t.TempDir(), "answer.json")

	out, _, err := execute(t, "", "query", chunks, "anything at all",
		"--routing", "comprehensive", "--synthesis", "mapreduce", "--output", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "anything at all")
	assert.Contains(t, out, "Source: Segment 5")
	assert.Contains(t, out, "fell back to concatenate")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var ans synth.Answer
	require.NoError(t, json.Unmarshal(data, &ans))
	assert.Equal(t, 5, ans.SegmentsQueried)
}

func TestQuery_HighThreshold(t *testing.T) {
	chunks := chunkBill(t)
	out, _, err := execute(t, "", "query", chunks, "Tell me about things in general", "--threshold", "0.99")
	require.NoError(t, err)
	assert.Contains(t, out, synth.NoRelevantInfo)
}

func TestQuery_MissingIndexFails(t *testing.T) {
	_, _, err := execute(t, "", "query", t.TempDir(), "question")
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrIndexNotFound)
}

func TestQuery_BadFlags(t *testing.T) {
	chunks := chunkBill(t)
	for _, args := range [][]string{
		{"--routing", "vector"},
		{"--synthesis", "vote"},
		{"--threshold", "1.5"},
	} {
		_, _, err := execute(t, "", append([]string{"query", chunks, "q"}, args...)...)
		assert.Error(t, err, args)
	}
}

func TestQuery_InvalidConfigFails(t *testing.T) {
	chunks := chunkBill(t)
	tests := []struct {
		env, value, want string
	}{
		{"ROUTING", "bogus", "ROUTING"},
		{"SYNTHESIS", "vote", "SYNTHESIS"},
		{"RELEVANCE_THRESHOLD", "7", "RELEVANCE_THRESHOLD"},
	}
	for _, tc := range tests {
		t.Run(tc.env, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)
			out, _, err := execute(t, "", "query", chunks, "What does Part 3 say about funding?", "--json")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Empty(t, out)
		})
	}
}

func TestQuery_ModelFlagOverridesConfiguredModel(t *testing.T) {
	chunks := chunkBill(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, _, err := execute(t, "", "query", chunks, "question", "--model", "claude-sonnet-4-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestQuery_RequiresTwoArgs(t *testing.T) {
	_, _, err := execute(t, "", "query", "only-one")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")
}

func TestEstimate_Stdin(t *testing.T) {
	text := strings.Repeat("abcd", 12)
	out, _, err := execute(t, text, "estimate", "-", "--method", "fast")
	require.NoError(t, err)
	assert.Contains(t, out, "12 units (fast, rough accuracy)")
	assert.NotContains(t, out, "fell back")
}

func TestEstimate_PreciseWithoutCredentialDegrades(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	estimateTokenizer = func() (tokens.Tokenizer, error) { return nil, errors.New("offline") }
	defer func() { estimateTokenizer = nil }()

	out, _, err := execute(t, strings.Repeat("abcd", 10), "estimate", "-", "--method", "precise", "--model", "claude-sonnet")
	require.NoError(t, err)
	assert.Contains(t, out, "10 units (fast, rough accuracy)")
	assert.Contains(t, out, "precise unavailable, fell back to fast")
}

func TestEstimate_UnknownMethod(t *testing.T) {
	_, _, err := execute(t, "x", "estimate", "-", "--method", "exact")
	assert.Error(t, err)
}

func TestQueryCmd_Flags(t *testing.T) {
	for _, name := range []string{"index", "model", "routing", "synthesis", "threshold", "output", "concurrency", "timeout", "json"} {
		assert.NotNil(t, queryCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "0.3", queryCmd.Flags().Lookup("threshold").DefValue)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
