package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/pipeline"
)

func TestReceiver_AcceptsSignedRun(t *testing.T) {
	rv := newReceiver("s3cret", nil)
	srv := httptest.NewServer(rv.routes())
	defer srv.Close()

	runner, err := pipeline.NewHTTPRunner(pipeline.Config{BaseURL: srv.URL, Secret: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, runner.RunPipeline(context.Background(), "p1", "j1"))

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var s stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, int64(1), s.Count)
	require.Len(t, s.LastRuns, 1)
	assert.Equal(t, "p1", s.LastRuns[0].ProjectID)
	assert.Equal(t, "j1", s.LastRuns[0].PipelineID)
	assert.NotEmpty(t, s.LastRuns[0].RequestID)
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	rv := newReceiver("s3cret", nil)
	srv := httptest.NewServer(rv.routes())
	defer srv.Close()

	runner, err := pipeline.NewHTTPRunner(pipeline.Config{BaseURL: srv.URL, Secret: "wrong"})
	require.NoError(t, err)

	err = runner.RunPipeline(context.Background(), "p1", "j1")
	require.Error(t, err)

	var runErr *pipeline.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, http.StatusUnauthorized, runErr.StatusCode)
	rv.mu.Lock()
	defer rv.mu.Unlock()
	assert.Equal(t, int64(1), rv.rejected)
}

func TestReceiver_SimulatedFailure(t *testing.T) {
	rv := newReceiver("", nil)
	rv.failStatus = http.StatusServiceUnavailable
	srv := httptest.NewServer(rv.routes())
	defer srv.Close()

	runner, err := pipeline.NewHTTPRunner(pipeline.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	err = runner.RunPipeline(context.Background(), "p1", "j1")
	assert.ErrorIs(t, err, pipeline.ErrRunRejected)
}
