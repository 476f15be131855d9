package components

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/templ"

	"subforge/internal/models"
)

// JobList renders the job history table.
func JobList(theme string, jobs []models.Job) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<h1>Jobs</h1>`)
		if len(jobs) == 0 {
			b.WriteString(`<p class="muted">No jobs yet.</p>`)
			_, err := io.WriteString(w, b.String())
			return err
		}
		b.WriteString(`<table><thead><tr><th>Created</th><th>Kind</th><th>Status</th><th>Progress</th><th>Duration</th></tr></thead><tbody>`)
		for _, j := range jobs {
			fmt.Fprintf(&b, `<tr><td><a href="/jobs/%s">%s</a></td><td>%s</td><td class="status-%s">%s</td><td>%d%%</td><td>%s</td></tr>`,
				esc(j.ID), j.CreatedAt.Format("2006-01-02 15:04:05"), esc(j.Kind),
				esc(j.Status), esc(statusText(&j)), int(j.Progress*100), formatDuration(j.Duration()))
		}
		b.WriteString(`</tbody></table>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
	return Layout("Jobs - Subforge", theme, body)
}

// JobDetail renders one job with its artifacts.
func JobDetail(theme string, job *models.Job) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<h1>Job <span class="muted">%s</span></h1>`, esc(job.ID))
		fmt.Fprintf(&b, `<div class="card"><p>%s &middot; <span class="status-%s" id="job-label">%s</span></p>`,
			esc(job.Kind), esc(job.Status), esc(statusText(job)))
		fmt.Fprintf(&b, `<progress id="job-progress" max="1" value="%g"></progress>`, job.Progress)
		if job.Step != "" && !job.Finished() {
			fmt.Fprintf(&b, `<p class="muted">%s</p>`, esc(job.Step))
		}
		if job.Error != "" {
			fmt.Fprintf(&b, `<p class="status-failed">%s</p>`, esc(job.Error))
		}
		b.WriteString(`</div>`)

		if len(job.Artifacts) > 0 {
			b.WriteString(`<div class="card"><h2>Subtitle files</h2><table><tbody>`)
			for _, a := range job.Artifacts {
				fmt.Fprintf(&b, `<tr><td><a href="/api/artifacts/%s">%s</a></td><td>%s</td><td>%s</td>`,
					esc(a.ID), esc(filepath.Base(a.Path)), esc(a.Format), formatDuration(a.Elapsed))
				if a.RemoteURL != "" {
					fmt.Fprintf(&b, `<td><a href="%s">mirror</a></td>`, esc(a.RemoteURL))
				} else {
					b.WriteString(`<td></td>`)
				}
				b.WriteString(`</tr>`)
			}
			b.WriteString(`</tbody></table></div>`)
		}

		fmt.Fprintf(&b, `<label>Output</label><textarea class="output" id="job-output" readonly>%s</textarea>`, esc(job.Summary))
		if !job.Finished() {
			fmt.Fprintf(&b, `<script>%s</script>`, strings.ReplaceAll(detailScript, "{{id}}", job.ID))
		}
		_, err := io.WriteString(w, b.String())
		return err
	})
	return Layout("Job - Subforge", theme, body)
}

func statusText(j *models.Job) string {
	if j.Status == models.JobStatusFailed && j.ErrorKind != "" {
		return j.Status + " (" + j.ErrorKind + ")"
	}
	return j.Status
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// detailScript reloads the page once the job finishes.
const detailScript = `
(function () {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  var ws = new WebSocket(proto + location.host + '/ws/jobs/{{id}}');
  ws.onmessage = function (ev) {
    var u = JSON.parse(ev.data);
    if (typeof u.fraction === 'number') { document.getElementById('job-progress').value = u.fraction; }
    document.getElementById('job-label').textContent = u.label || u.status;
    if (u.status === 'completed' || u.status === 'failed') { location.reload(); }
  };
})();
`
