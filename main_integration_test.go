package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/classifier"
)

// gatedClassifier blocks inside Classify until release is closed.
type gatedClassifier struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedClassifier) Classify(ctx context.Context, _ []byte) (classifier.Prediction, error) {
	close(g.started)
	select {
	case <-g.release:
		return classifier.Prediction{Label: classifier.Kardus, Confidence: 0.8}, nil
	case <-ctx.Done():
		return classifier.Prediction{}, ctx.Err()
	}
}

func TestServeDrainsInFlightPredictBeforeShutdown(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)

	model := &gatedClassifier{started: make(chan struct{}), release: make(chan struct{})}
	a, err := newApp(context.Background(), testConfig(t), model, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &http.Server{Handler: a.Handler()}

	stop := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(server, listener, stop, 2*time.Second, zap.NewNop())
	}()

	client := &http.Client{Timeout: 3 * time.Second}
	defer client.CloseIdleConnections()

	type result struct {
		status int
		body   []byte
		err    error
	}
	respCh := make(chan result, 1)
	body, contentType := uploadBody(t)
	go func() {
		req, err := http.NewRequest(http.MethodPost, "http://"+listener.Addr().String()+"/predict", body)
		if err != nil {
			respCh <- result{err: err}
			return
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("User-Uid", "user-7")
		resp, err := client.Do(req)
		if err != nil {
			respCh <- result{err: err}
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		respCh <- result{status: resp.StatusCode, body: data, err: err}
	}()

	select {
	case <-model.started:
	case <-time.After(2 * time.Second):
		t.Fatal("predict request never reached the classifier")
	}

	stop <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("server returned before the in-flight request finished: %v", err)
	default:
	}
	close(model.release)

	var got result
	select {
	case got = <-respCh:
	case <-time.After(3 * time.Second):
		t.Fatal("predict request did not complete")
	}
	require.NoError(t, got.err)
	require.Equal(t, http.StatusOK, got.status, string(got.body))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("User-Uid", "user-7")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var history struct {
		History []struct {
			Label string `json:"label"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.History, 1, "record committed before shutdown returned")
	assert.Equal(t, "Kardus", history.History[0].Label)
}

func TestServeReturnsListenerErrors(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	server := &http.Server{Handler: http.NotFoundHandler()}
	err = serve(server, listener, make(chan os.Signal), time.Second, zap.NewNop())
	assert.Error(t, err)
}
