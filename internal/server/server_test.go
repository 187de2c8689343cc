package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/notify"
)

func newTestServer(t *testing.T) (*Server, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/site/dist/index.html":       "<html><body><h1>home</h1></body></html>",
		"/site/dist/about/index.html": "<html><BODY>about</BODY></html>",
		"/site/dist/fragment.html":    "<p>no body</p>",
		"/site/dist/css/site.css":     "body{color:red}",
	}
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(body), 0o644))
	}

	srv := New(Options{Fs: fs, Root: "/site/dist", Tasks: []string{"styles", "scripts"}})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, fs
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestInjectReloadScript(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "before closing body",
			page: "<html><body>hi</body></html>",
			want: "<html><body>hi" + ScriptTag + "</body></html>",
		},
		{
			name: "upper case body",
			page: "<BODY>hi</BODY>",
			want: "<BODY>hi" + ScriptTag + "</BODY>",
		},
		{
			name: "last body tag wins",
			page: "<body><pre></body></pre></body>",
			want: "<body><pre></body></pre>" + ScriptTag + "</body>",
		},
		{
			name: "no body appends",
			page: "<p>x</p>",
			want: "<p>x</p>" + ScriptTag,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(InjectReloadScript([]byte(tt.page))))
		})
	}
}

func TestServesHTMLWithReloadScript(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rr := get(t, h, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<h1>home</h1>"+ScriptTag+"</body>")
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = get(t, h, "/about/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), ScriptTag+"</BODY>")

	rr = get(t, h, "/about")
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "/about/", rr.Header().Get("Location"))

	rr = get(t, h, "/fragment.html")
	assert.True(t, strings.HasSuffix(rr.Body.String(), ScriptTag))
}

func TestServesAssetsUnchanged(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := get(t, srv.Handler(), "/css/site.css")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "body{color:red}", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/css")
	assert.NotEmpty(t, rr.Header().Get("Cache-Control"))

	rr = get(t, srv.Handler(), "/missing.js")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServesChangedFiles(t *testing.T) {
	srv, fs := newTestServer(t)
	require.NoError(t, afero.WriteFile(fs, "/site/dist/css/site.css", []byte("body{color:blue}"), 0o644))

	rr := get(t, srv.Handler(), "/css/site.css")
	assert.Equal(t, "body{color:blue}", rr.Body.String())
}

func TestLiveReloadScriptRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := get(t, srv.Handler(), "/__sitepipe/livereload.js")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rr.Body.String(), "/__sitepipe/ws")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := get(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestStatusEndpoints(t *testing.T) {
	stats := build.NewBuildMetrics()
	activity := notify.NewRecorder(10)
	srv := New(Options{
		Fs:       afero.NewMemMapFs(),
		Root:     "/dist",
		Stats:    stats,
		Activity: activity,
		Tasks:    []string{"styles", "scripts"},
	})
	defer srv.Shutdown(context.Background())

	stats.RecordTask(&build.TaskResult{Task: "scripts", Outcome: build.OutcomeSkipped, Err: fmt.Errorf(`dependency "<i>styles</i>" failed`)})
	stats.RecordTask(&build.TaskResult{Task: "styles", Outcome: build.OutcomeFailure, Err: assert.AnError})
	stats.RecordRun(&build.Report{RunID: "run-1", Results: []*build.TaskResult{{Task: "styles", Outcome: build.OutcomeFailure, Err: assert.AnError}}})
	require.NoError(t, activity.Notify(context.Background(), notify.Change{Kind: notify.KindError, Task: "styles", Error: "<bad>", Time: time.Now()}))

	rr := get(t, srv.Handler(), "/__sitepipe/api/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.EqualValues(t, 1, status.TotalRuns)
	assert.EqualValues(t, 1, status.FailedRuns)
	assert.Equal(t, "run-1", status.LastRunID)
	require.Len(t, status.Tasks, 2)
	assert.Equal(t, "styles", status.Tasks[0].Name)
	assert.Equal(t, "failure", status.Tasks[0].Outcome)
	assert.Equal(t, "scripts", status.Tasks[1].Name)
	require.Len(t, status.Recent, 1)

	rr = get(t, srv.Handler(), "/__sitepipe/status")
	require.Equal(t, http.StatusOK, rr.Code)
	page := rr.Body.String()
	assert.Contains(t, page, `<td class="failure">failure</td>`)
	assert.Contains(t, page, `<td class="skipped">skipped</td>`)
	assert.Contains(t, page, "&lt;bad&gt;")
	assert.NotContains(t, page, "<bad>")
	assert.Contains(t, page, "&lt;i&gt;styles&lt;/i&gt;")
	assert.NotContains(t, page, "<i>")
	assert.Contains(t, page, "Recent notifications")
	assert.Contains(t, page, "Last run run-1")
}

func TestMetricsRoute(t *testing.T) {
	rec := metrics.NewPrometheusRecorder(nil)
	rec.ObserveTask("styles", time.Millisecond, metrics.OutcomeSuccess)

	srv := New(Options{Fs: afero.NewMemMapFs(), Root: "/", Metrics: rec})
	defer srv.Shutdown(context.Background())

	rr := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `sitepipe_task_results_total{outcome="success",task="styles"} 1`)
}

func TestServeAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/css/site.css")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "body{color:red}", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}

func TestURL(t *testing.T) {
	assert.Equal(t, "http://localhost:3000", New(Options{Port: 3000, Fs: afero.NewMemMapFs()}).URL())
	assert.Equal(t, "http://127.0.0.1:8080", New(Options{Host: "127.0.0.1", Port: 8080, Fs: afero.NewMemMapFs()}).URL())
}
