package tokens

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

type fixedCounter struct {
	n   int
	err error
}

func (c fixedCounter) CountTokens(ctx context.Context, text string) (int, error) {
	return c.n, c.err
}

func brokenLoader() (Tokenizer, error) { return nil, errors.New("no network") }

func wordLoader() (Tokenizer, error) { return wordTokenizer{}, nil }

func TestFast_RoundsDown(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{"abcdefg", 1},
		{strings.Repeat("x", 4000), 1000},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Fast(tc.text), "len=%d", len(tc.text))
	}
}

func TestEstimate_Fast(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(brokenLoader))
	est := e.Estimate(context.Background(), "twelve chars", MethodFast)
	assert.Equal(t, 3, est.Units)
	assert.Equal(t, MethodFast, est.Method)
	assert.Equal(t, AccuracyRough, est.Accuracy)
	assert.False(t, est.Degraded())
}

func TestEstimate_SubwordUsesTokenizer(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(wordLoader))
	est := e.Estimate(context.Background(), "one two three", MethodSubword)
	assert.Equal(t, 3, est.Units)
	assert.Equal(t, MethodSubword, est.Method)
	assert.Equal(t, AccuracyGood, est.Accuracy)
}

func TestEstimate_SubwordDegradesToFast(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(brokenLoader))
	est := e.Estimate(context.Background(), "abcdefgh", MethodSubword)
	require.Equal(t, MethodFast, est.Method)
	assert.Equal(t, MethodSubword, est.Requested)
	assert.True(t, est.Degraded())
	assert.Equal(t, 2, est.Units)
}

func TestEstimate_TokenizerLoadedOnce(t *testing.T) {
	calls := 0
	e := NewEstimator(WithTokenizerLoader(func() (Tokenizer, error) {
		calls++
		return wordTokenizer{}, nil
	}))
	for range 3 {
		e.Estimate(context.Background(), "a b", MethodSubword)
	}
	assert.Equal(t, 1, calls)
}

func TestEstimate_NilLoaderKeepsDefault(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(nil))
	assert.NotNil(t, e.load)
}

func TestEstimate_PreciseChain(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		want    Method
		wantAcc Accuracy
	}{
		{"counter succeeds", []Option{WithCounter(fixedCounter{n: 42}), WithTokenizerLoader(wordLoader)}, MethodPrecise, AccuracyExact},
		{"counter fails", []Option{WithCounter(fixedCounter{err: errors.New("connection refused")}), WithTokenizerLoader(wordLoader)}, MethodSubword, AccuracyGood},
		{"no counter", []Option{WithTokenizerLoader(wordLoader)}, MethodSubword, AccuracyGood},
		{"everything fails", []Option{WithCounter(fixedCounter{err: errors.New("down")}), WithTokenizerLoader(brokenLoader)}, MethodFast, AccuracyRough},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			est := NewEstimator(tc.opts...).Estimate(context.Background(), "alpha beta gamma delta", MethodPrecise)
			assert.Equal(t, tc.want, est.Method)
			assert.Equal(t, tc.wantAcc, est.Accuracy)
			assert.Equal(t, MethodPrecise, est.Requested)
		})
	}
}

func TestEstimate_TokenizerPanicDegrades(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(func() (Tokenizer, error) { panic("bad bpe file") }))
	est := e.Estimate(context.Background(), "abcdefgh", MethodSubword)
	assert.Equal(t, MethodFast, est.Method)
}

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"fast", "subwordTokenizer", "precise"} {
		_, err := ParseMethod(s)
		assert.NoError(t, err, s)
	}
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodFast, m)

	_, err = ParseMethod("exact")
	assert.Error(t, err)
}
