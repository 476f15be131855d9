// Package components renders the HTML pages.
package components

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// Layout wraps body in the page shell. theme is "light" or "dark".
func Layout(title, theme string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if theme != "dark" {
			theme = "light"
		}
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en" data-theme="%s">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>%s</style>
</head>
<body>
<header><a href="/" class="brand">Subforge</a><nav><a href="/">Transcribe</a><a href="/jobs">Jobs</a></nav></header>
<main>
`, theme, esc(title), stylesheet); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</main>\n</body>\n</html>\n")
		return err
	})
}

func esc(s string) string {
	return templ.EscapeString(s)
}

const stylesheet = `
:root { --bg: #fafafa; --fg: #1f2328; --muted: #656d76; --card: #fff; --border: #d0d7de; --accent: #ea580c; }
[data-theme="dark"] { --bg: #0d1117; --fg: #e6edf3; --muted: #8d96a0; --card: #161b22; --border: #30363d; --accent: #fb923c; }
* { box-sizing: border-box; }
body { margin: 0; font-family: system-ui, sans-serif; background: var(--bg); color: var(--fg); }
header { display: flex; gap: 2rem; align-items: center; padding: .75rem 1.5rem; border-bottom: 1px solid var(--border); }
header nav a { margin-right: 1rem; }
a { color: var(--accent); text-decoration: none; }
.brand { font-weight: 700; font-size: 1.2rem; }
main { max-width: 960px; margin: 0 auto; padding: 1.5rem; }
.tabs { display: flex; gap: .25rem; border-bottom: 1px solid var(--border); margin-bottom: 1rem; }
.tabs button { background: none; border: none; padding: .6rem 1rem; color: var(--muted); cursor: pointer; border-bottom: 2px solid transparent; }
.tabs button.active { color: var(--fg); border-bottom-color: var(--accent); }
.panel { display: none; }
.panel.active { display: block; }
.card { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
label { display: block; margin: .5rem 0 .25rem; color: var(--muted); font-size: .9rem; }
input, select, textarea { width: 100%; padding: .45rem; background: var(--bg); color: var(--fg); border: 1px solid var(--border); border-radius: 6px; }
input[type=checkbox] { width: auto; }
.row { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: .75rem; }
button.primary { margin-top: 1rem; padding: .55rem 1.2rem; background: var(--accent); color: #fff; border: none; border-radius: 6px; cursor: pointer; }
progress { width: 100%; height: 1rem; }
textarea.output { min-height: 16rem; font-family: ui-monospace, monospace; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: .4rem .5rem; border-bottom: 1px solid var(--border); }
.status-completed { color: #1a7f37; } .status-failed { color: #cf222e; } .status-running { color: var(--accent); }
.muted { color: var(--muted); }
.preview { display: flex; gap: 1rem; } .preview img { max-width: 240px; border-radius: 6px; }
`
