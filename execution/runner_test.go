package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "python", req.Language)

		json.NewEncoder(w).Encode(RunResult{Output: "hi\n", ExitCode: 0})
	}))
	defer srv.Close()

	runner := NewRunner(srv.URL, time.Second, zap.NewNop())
	result, err := runner.Run(context.Background(), RunRequest{Language: "python", Code: "print('hi')"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", result.Output)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunnerNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sandbox exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	runner := NewRunner(srv.URL, time.Second, zap.NewNop())
	_, err := runner.Run(context.Background(), RunRequest{Language: "go", Code: ""})
	assert.Error(t, err)
}

func TestRunnerUnreachable(t *testing.T) {
	runner := NewRunner("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())
	_, err := runner.Run(context.Background(), RunRequest{Language: "go", Code: ""})
	assert.Error(t, err)
}
