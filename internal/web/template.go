package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/smart-thermostat/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"temp": func(v *float64) string {
		if v == nil {
			return "UNKNOWN"
		}
		return fmt.Sprintf("%.1f °C", *v)
	},
	"output": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f", *v)
	},
	"since": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .Config.Name}}{{.Config.Name}}{{else}}{{.Config.EntityID}}{{end}} - Thermostat</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{if .Config.Name}}{{.Config.Name}}{{else}}{{.Config.EntityID}}{{end}}</h1>

<h2>Climate</h2>
<table>
<tr><th>Current</th><td id="current">{{temp .Current}}</td></tr>
<tr><th>Target</th><td id="target">{{temp .Target}}</td></tr>
<tr><th>HVAC mode</th><td id="hvac-mode">{{if .HVACMode}}{{.HVACMode}}{{else}}unknown{{end}}</td></tr>
</table>

<h2>Controllers</h2>
<table>
<tr><th>Name</th><th>Kind</th><th>Mode</th><th>Target</th><th>State</th><th>Output</th><th>PID</th></tr>
{{range .Controllers}}<tr>
<td>{{.Name}}</td><td>{{.Kind}}</td><td>{{.Mode}}{{if .Inverted}} (inverted){{end}}</td><td>{{.Target}}</td>
<td class="{{if .Error}}error{{else if .Working}}on{{else}}off{{end}}">{{if .Error}}{{.Error}}{{else if not .Running}}stopped{{else if .Working}}working{{else}}idle{{end}}</td>
<td>{{output .Output}}</td><td>{{if .Gains}}{{.Gains}}{{else}}-{{end}}</td>
</tr>
{{end}}</table>

<h2>Actuators</h2>
<table>
<tr><th>ID</th><th>Driver</th><th>State</th><th>Since</th></tr>
{{range .Actuators}}<tr><td>{{.ID}}</td><td>{{.Driver}}</td><td class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}{{if .HasValue}} ({{.Value}}){{end}}</td><td>{{since .Since}}</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Commands</th><td>{{.Commands}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Keep-alive</th><td>{{if eq .Config.KeepAlive 0}}disabled{{else}}{{.Config.KeepAlive}}{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.Heartbeat 0}}disabled{{else}}{{.Config.Heartbeat}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has an Uptime() method but the template needs a field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
