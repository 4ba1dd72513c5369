package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_DisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewClient(ClientOptions{}))
}

func TestRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, rerankPath, r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rerank-v3.5", req.Model)
		assert.Equal(t, "clarys", req.Query)
		assert.Equal(t, []string{"a", "b"}, req.Documents)
		assert.Equal(t, 2, req.TopN)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","results":[{"index":1,"relevance_score":0.9},{"index":0,"relevance_score":0.2}]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIKey: "test-key", BaseURL: srv.URL + "/"})

	results, err := client.Rerank(context.Background(), "clarys", []string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []RerankResult{{Index: 1, RelevanceScore: 0.9}, {Index: 0, RelevanceScore: 0.2}}, results)
}

func TestRerank_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{
		APIKey:       "k",
		BaseURL:      srv.URL,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})

	results, err := client.Rerank(context.Background(), "q", []string{"a"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRerank_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid request"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIKey: "k", BaseURL: srv.URL})

	_, err := client.Rerank(context.Background(), "q", nil, 0)
	require.ErrorIs(t, err, ErrNoDocuments)

	_, err = client.Rerank(context.Background(), "q", []string{"a"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestRerank_IndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":3,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{APIKey: "k", BaseURL: srv.URL})

	_, err := client.Rerank(context.Background(), "q", []string{"a"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
