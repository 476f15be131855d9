package components

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

// ModelOption is one entry of the model picker.
type ModelOption struct {
	ID           string
	Translatable bool
}

// HomeData fills the transcription and translation forms.
type HomeData struct {
	Theme             string
	Backend           string
	Models            []ModelOption
	DefaultModel      string
	Precisions        []string
	DefaultPrecision  string
	Languages         []string
	Formats           []string
	BeamSize          int
	LogProbThreshold  float64
	NoSpeechThreshold float64
	SourceLanguages   []string
	TargetLanguages   []string
	LocalTranslation  bool
	LocalModel        string
}

// Home renders the tabbed main page.
func Home(d HomeData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="tabs">
<button class="active" data-tab="file">File</button>
<button data-tab="youtube">YouTube</button>
<button data-tab="mic">Microphone</button>
<button data-tab="translate">Translate</button>
</div>
`)
		fmt.Fprintf(&b, `<p class="muted">Backend: %s</p>`+"\n", esc(d.Backend))

		b.WriteString(`<section class="panel active" id="tab-file"><form class="card" data-endpoint="/api/transcribe/file">
<label>Audio or video files</label><input type="file" name="files" multiple required>
`)
		asrOptions(&b, d)
		b.WriteString(`<button class="primary" type="submit">Generate subtitle file</button></form></section>
`)

		b.WriteString(`<section class="panel" id="tab-youtube"><form class="card" data-endpoint="/api/transcribe/youtube">
<label>YouTube URL</label><input type="url" name="url" required placeholder="https://www.youtube.com/watch?v=">
<div class="preview" hidden><img alt=""><div><strong class="yt-title"></strong><p class="muted yt-author"></p><p class="yt-desc"></p></div></div>
`)
		asrOptions(&b, d)
		b.WriteString(`<button class="primary" type="submit">Generate subtitle file</button></form></section>
`)

		b.WriteString(`<section class="panel" id="tab-mic"><form class="card" id="mic-form">
<p class="muted">Recordings are transcribed with a timestamp so captures never overwrite each other.</p>
<button type="button" id="mic-toggle">Start recording</button> <span id="mic-status" class="muted"></span>
`)
		asrOptions(&b, d)
		b.WriteString(`</form></section>
`)

		b.WriteString(`<section class="panel" id="tab-translate"><form class="card" data-endpoint="/api/translate">
<label>Subtitle files (.srt, .vtt)</label><input type="file" name="files" accept=".srt,.vtt" multiple required>
<div class="row"><div><label>Provider</label><select name="provider">
<option value="deepl">DeepL API</option>
`)
		if d.LocalTranslation {
			fmt.Fprintf(&b, `<option value="local">Local model (%s)</option>`+"\n", esc(d.LocalModel))
		}
		b.WriteString(`</select>`)
		if d.LocalTranslation {
			fmt.Fprintf(&b, `<input type="hidden" name="model" value="%s">`, esc(d.LocalModel))
		}
		b.WriteString(`</div>
<div><label>DeepL API key</label><input type="password" name="api_key" autocomplete="off"></div>
<div><label><input type="checkbox" name="pro" value="true"> DeepL Pro account</label></div></div>
<div class="row"><div><label>Source language</label>`)
		selectBox(&b, "source", d.SourceLanguages, "Automatic Detection")
		b.WriteString(`</div><div><label>Target language</label>`)
		selectBox(&b, "target", d.TargetLanguages, "English")
		b.WriteString(`</div></div>
<label><input type="checkbox" name="add_timestamp" value="true"> Add timestamp to file name</label>
<button class="primary" type="submit">Translate subtitle files</button></form></section>
`)

		b.WriteString(`<section class="card" id="job-box" hidden>
<div><strong id="job-label">queued</strong> <a id="job-link" class="muted" href="#"></a></div>
<progress id="job-progress" max="1" value="0"></progress>
<label>Output</label><textarea class="output" id="job-output" readonly></textarea>
</section>
<script>`)
		b.WriteString(homeScript)
		b.WriteString("</script>\n")

		_, err := io.WriteString(w, b.String())
		return err
	})
	return Layout("Subforge", d.Theme, body)
}

func asrOptions(b *strings.Builder, d HomeData) {
	b.WriteString(`<div class="row"><div><label>Model</label><select name="model" class="model-select">`)
	for _, m := range d.Models {
		sel := ""
		if m.ID == d.DefaultModel {
			sel = " selected"
		}
		fmt.Fprintf(b, `<option value="%s" data-translatable="%t"%s>%s</option>`, esc(m.ID), m.Translatable, sel, esc(m.ID))
	}
	b.WriteString(`</select></div><div><label>Language</label>`)
	selectBox(b, "language", d.Languages, "Automatic Detection")
	b.WriteString(`</div><div><label>Subtitle format</label>`)
	selectBox(b, "format", d.Formats, "SRT")
	b.WriteString(`</div></div>
<label class="translate-toggle"><input type="checkbox" name="translate" value="true"> Translate to English</label>
<label><input type="checkbox" name="add_timestamp" value="true"> Add timestamp to file name</label>
<details><summary class="muted">Advanced</summary><div class="row">`)
	fmt.Fprintf(b, `<div><label>Beam size</label><input type="number" name="beam_size" min="1" max="10" value="%d"></div>`, d.BeamSize)
	fmt.Fprintf(b, `<div><label>Log prob threshold</label><input type="number" name="log_prob_threshold" step="0.1" value="%s"></div>`,
		strconv.FormatFloat(d.LogProbThreshold, 'f', -1, 64))
	fmt.Fprintf(b, `<div><label>No speech threshold</label><input type="number" name="no_speech_threshold" step="0.05" min="0" max="1" value="%s"></div>`,
		strconv.FormatFloat(d.NoSpeechThreshold, 'f', -1, 64))
	b.WriteString(`<div><label>Compute type</label>`)
	selectBox(b, "precision", d.Precisions, d.DefaultPrecision)
	b.WriteString("</div></div></details>\n")
}

func selectBox(b *strings.Builder, name string, options []string, selected string) {
	fmt.Fprintf(b, `<select name="%s">`, esc(name))
	for _, o := range options {
		sel := ""
		if o == selected {
			sel = " selected"
		}
		fmt.Fprintf(b, `<option value="%s"%s>%s</option>`, esc(o), sel, esc(o))
	}
	b.WriteString("</select>")
}

const homeScript = `
document.querySelectorAll('.tabs button').forEach(function (btn) {
  btn.addEventListener('click', function () {
    document.querySelectorAll('.tabs button').forEach(function (b) { b.classList.remove('active'); });
    document.querySelectorAll('.panel').forEach(function (p) { p.classList.remove('active'); });
    btn.classList.add('active');
    document.getElementById('tab-' + btn.dataset.tab).classList.add('active');
  });
});

function syncTranslate(select) {
  var opt = select.options[select.selectedIndex];
  var toggle = select.form.querySelector('.translate-toggle');
  var ok = opt && opt.dataset.translatable === 'true';
  toggle.hidden = !ok;
  if (!ok) { toggle.querySelector('input').checked = false; }
}
document.querySelectorAll('.model-select').forEach(function (s) {
  syncTranslate(s);
  s.addEventListener('change', function () { syncTranslate(s); });
});

var box = document.getElementById('job-box');
var bar = document.getElementById('job-progress');
var label = document.getElementById('job-label');
var output = document.getElementById('job-output');
var link = document.getElementById('job-link');

function watchJob(id) {
  box.hidden = false;
  bar.value = 0;
  output.value = '';
  label.textContent = 'queued';
  link.href = '/jobs/' + id;
  link.textContent = 'job ' + id.slice(0, 8);
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  var ws = new WebSocket(proto + location.host + '/ws/jobs/' + id);
  ws.onmessage = function (ev) {
    var u = JSON.parse(ev.data);
    if (typeof u.fraction === 'number') { bar.value = u.fraction; }
    label.textContent = u.label || u.status;
    if (u.status === 'completed') { bar.value = 1; label.textContent = 'completed'; output.value = u.message || ''; }
    if (u.status === 'failed') { label.textContent = 'failed: ' + (u.message || ''); }
  };
}

async function submitJob(url, init) {
  var res = await fetch(url, init);
  var body = await res.json();
  if (!res.ok) {
    box.hidden = false;
    label.textContent = 'error: ' + body.error;
    return;
  }
  watchJob(body.id);
}

document.querySelectorAll('form[data-endpoint]').forEach(function (form) {
  form.addEventListener('submit', function (ev) {
    ev.preventDefault();
    submitJob(form.dataset.endpoint, { method: 'POST', body: new FormData(form) });
  });
});

var ytURL = document.querySelector('#tab-youtube input[name=url]');
ytURL.addEventListener('change', async function () {
  var preview = document.querySelector('#tab-youtube .preview');
  preview.hidden = true;
  if (!ytURL.value) { return; }
  var res = await fetch('/api/youtube/meta?url=' + encodeURIComponent(ytURL.value));
  if (!res.ok) { return; }
  var info = await res.json();
  preview.querySelector('img').src = info.thumbnail_url;
  preview.querySelector('.yt-title').textContent = info.title;
  preview.querySelector('.yt-author').textContent = info.author;
  preview.querySelector('.yt-desc').textContent = (info.description || '').slice(0, 300);
  preview.hidden = false;
});

var mic = { stream: null, ctx: null, proc: null, chunks: [] };
var micBtn = document.getElementById('mic-toggle');
var micStatus = document.getElementById('mic-status');
micBtn.addEventListener('click', async function () {
  if (!mic.stream) {
    mic.stream = await navigator.mediaDevices.getUserMedia({ audio: true });
    mic.ctx = new AudioContext();
    var src = mic.ctx.createMediaStreamSource(mic.stream);
    mic.proc = mic.ctx.createScriptProcessor(4096, 1, 1);
    mic.chunks = [];
    mic.proc.onaudioprocess = function (e) { mic.chunks.push(new Float32Array(e.inputBuffer.getChannelData(0))); };
    src.connect(mic.proc);
    mic.proc.connect(mic.ctx.destination);
    micBtn.textContent = 'Stop and transcribe';
    micStatus.textContent = 'recording';
    return;
  }
  mic.proc.disconnect();
  mic.stream.getTracks().forEach(function (t) { t.stop(); });
  var rate = mic.ctx.sampleRate;
  mic.ctx.close();
  var total = mic.chunks.reduce(function (n, c) { return n + c.length; }, 0);
  var pcm = new DataView(new ArrayBuffer(total * 2));
  var off = 0;
  mic.chunks.forEach(function (c) {
    for (var i = 0; i < c.length; i++, off += 2) {
      var s = Math.max(-1, Math.min(1, c[i]));
      pcm.setInt16(off, s < 0 ? s * 0x8000 : s * 0x7fff, true);
    }
  });
  mic.stream = null;
  micBtn.textContent = 'Start recording';
  micStatus.textContent = '';
  var params = new URLSearchParams(new FormData(document.getElementById('mic-form')));
  params.set('sample_rate', rate);
  params.set('channels', 1);
  submitJob('/api/transcribe/mic?' + params.toString(), {
    method: 'POST',
    headers: { 'Content-Type': 'application/octet-stream' },
    body: pcm.buffer
  });
});
`
