package server

import (
	"context"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/notify"
)

// StatusResponse is the body of the JSON status endpoint.
type StatusResponse struct {
	TotalRuns      int64           `json:"total_runs"`
	SuccessfulRuns int64           `json:"successful_runs"`
	FailedRuns     int64           `json:"failed_runs"`
	SuccessRate    float64         `json:"success_rate"`
	AverageMS      int64           `json:"average_ms"`
	LastRunID      string          `json:"last_run_id,omitempty"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	Clients        int             `json:"clients"`
	Tasks          []TaskResponse  `json:"tasks"`
	Recent         []notify.Change `json:"recent,omitempty"`
}

// TaskResponse is the last known state of one task.
type TaskResponse struct {
	Name         string `json:"name"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	FilesWritten int    `json:"files_written"`
	BytesWritten int64  `json:"bytes_written"`
	DurationMS   int64  `json:"duration_ms"`
}

func (s *Server) status() StatusResponse {
	snap := s.opts.Stats.GetSnapshot(s.opts.Tasks)
	resp := StatusResponse{
		TotalRuns:      snap.TotalRuns,
		SuccessfulRuns: snap.SuccessfulRuns,
		FailedRuns:     snap.FailedRuns,
		SuccessRate:    s.opts.Stats.GetSuccessRate(),
		AverageMS:      snap.AverageDuration.Milliseconds(),
		LastRunID:      snap.LastRunID,
		Clients:        s.opts.Hub.ClientCount(),
		Tasks:          make([]TaskResponse, 0, len(snap.Tasks)),
	}
	if !snap.LastRunAt.IsZero() {
		at := snap.LastRunAt
		resp.LastRunAt = &at
	}
	for _, st := range snap.Tasks {
		resp.Tasks = append(resp.Tasks, TaskResponse{
			Name:         st.Task,
			Outcome:      st.Outcome.String(),
			Reason:       st.Reason,
			FilesWritten: st.FilesWritten,
			BytesWritten: st.BytesWritten,
			DurationMS:   st.Duration.Milliseconds(),
		})
	}
	if s.opts.Activity != nil {
		resp.Recent = s.opts.Activity.Changes()
	}
	return resp
}

func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	templ.Handler(statusPage(s.opts.Stats.GetSnapshot(s.opts.Tasks), s.status())).ServeHTTP(w, r)
}

var statusTemplate = template.Must(template.New("status").Funcs(template.FuncMap{
	"ago":   humanize.Time,
	"bytes": func(n int64) string { return humanize.Bytes(uint64(n)) },
	"ms":    func(d time.Duration) time.Duration { return d.Round(time.Millisecond) },
	"pct":   func(f float64) string { return strconv.FormatFloat(f, 'f', 0, 64) },
	"newest": func(changes []notify.Change) []notify.Change {
		out := make([]notify.Change, 0, len(changes))
		for i := len(changes) - 1; i >= 0; i-- {
			out = append(out, changes[i])
		}
		return out
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>sitepipe status</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 2rem; }
        table { border-collapse: collapse; }
        td, th { padding: .3rem .8rem; border-bottom: 1px solid #ddd; text-align: left; }
        .success { color: #1a7f37; }
        .failure { color: #cf222e; }
        .skipped { color: #9a6700; }
    </style>
</head>
<body>
    <h1>sitepipe</h1>
    <p>{{.Status.TotalRuns}} runs, {{.Status.FailedRuns}} failed, {{pct .Status.SuccessRate}}% successful, average {{ms .Snapshot.AverageDuration}}. {{.Status.Clients}} browser(s) connected.</p>
    {{- if not .Snapshot.LastRunAt.IsZero}}
    <p>Last run {{.Snapshot.LastRunID}} ({{ago .Snapshot.LastRunAt}})</p>
    {{- end}}
    <table>
        <thead><tr><th>Task</th><th>Outcome</th><th>Files</th><th>Size</th><th>Duration</th><th>Reason</th></tr></thead>
        <tbody>
        {{- range .Snapshot.Tasks}}
        <tr><td>{{.Task}}</td><td class="{{.Outcome}}">{{.Outcome}}</td><td>{{.FilesWritten}}</td><td>{{bytes .BytesWritten}}</td><td>{{ms .Duration}}</td><td>{{.Reason}}</td></tr>
        {{- end}}
        </tbody>
    </table>
    {{- with .Status.Recent}}
    <h2>Recent notifications</h2>
    <ul>
        {{- range newest .}}
        <li>{{ago .Time}} {{.Kind}} <code>{{.Task}}</code> {{.Error}}</li>
        {{- end}}
    </ul>
    {{- end}}
</body>
</html>`))

type statusData struct {
	Snapshot build.Snapshot
	Status   StatusResponse
}

// statusPage renders the build dashboard.
func statusPage(snap build.Snapshot, st StatusResponse) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return statusTemplate.Execute(w, statusData{Snapshot: snap, Status: st})
	})
}
