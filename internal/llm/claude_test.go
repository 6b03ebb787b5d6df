package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeGenerate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"  Part 3 covers funding. "},{"type":"text","text":"Done."}]}`))
	}))
	defer srv.Close()

	c := NewClaude("test-key", "claude-test").WithBaseURL(srv.URL)
	defer c.Close()
	out, err := c.Generate(context.Background(), "question", Options{Temperature: 0.1, MaxOutputUnits: 256})
	require.NoError(t, err)
	assert.Equal(t, "Part 3 covers funding. Done.", out)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.1, *got.Temperature)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "question", got.Messages[0].Content)
	assert.Equal(t, "claude:claude-test", c.Name())
}

func TestClaudeGenerate_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit","message":"slow down"}}`, true},
		{"server error", http.StatusBadGateway, `bad gateway`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request","message":"nope"}}`, false},
		{"error body", http.StatusOK, `{"error":{"type":"overloaded","message":"busy"}}`, false},
		{"empty content", http.StatusOK, `{"content":[]}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClaude("k", "claude-test").WithBaseURL(srv.URL).Generate(context.Background(), "p", DefaultOptions())
			require.Error(t, err)
			assert.Equal(t, tc.retryable, IsRetryable(err), err)
			assert.Equal(t, FailureRemote, Classify(err))
		})
	}
}

func TestClaudeGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClaude("k", "claude-test").WithBaseURL(srv.URL).
		Generate(context.Background(), "p", Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, FailureTimeout, Classify(err), err)
}

func TestClaudeGenerate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClaude("k", "claude-test").WithBaseURL(url).Generate(context.Background(), "p", DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, FailureConnection, Classify(err), err)
}

func TestClaudeCountTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/count_tokens", r.URL.Path)
		w.Write([]byte(`{"input_tokens": 42}`))
	}))
	defer srv.Close()

	n, err := NewClaude("k", "claude-test").WithBaseURL(srv.URL).CountTokens(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FailureTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, FailureRemote, Classify(errors.New("model refused")))
}

func TestBackoffBounds(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt)
		base := min(time.Duration(1<<uint(attempt))*time.Second, 30*time.Second)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.Less(t, d, base+base/2, "attempt %d", attempt)
	}
}
