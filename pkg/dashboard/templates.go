package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at runtime.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Intcode Node Dashboard</title>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body>
    <nav>
        <a href="/" class="brand">intcode</a>
        <a href="/" {{if eq .PageName "home"}}class="active"{{end}}>Overview</a>
        <a href="/machines" {{if or (eq .PageName "machines") (eq .PageName "machine")}}class="active"{{end}}>Machines</a>
        <a href="/programs" {{if eq .PageName "programs"}}class="active"{{end}}>Programs</a>
    </nav>

    <main>
        {{.Content}}
    </main>

    <footer>Intcode Node | <span id="current-time"></span></footer>
    <script src="/static/app.js"></script>
</body>
</html>`

const homeTemplate = `
<h1>Overview</h1>
<div class="cards">
    <div class="card">
        <div class="label">State</div>
        <div class="value {{if .IsRunning}}ok{{else}}bad{{end}}">{{.State}}</div>
        <div class="sub">up {{.Uptime}}</div>
    </div>
    <div class="card">
        <div class="label">Live machines</div>
        <div class="value">{{.Sessions.Live}}</div>
        <div class="sub">{{.Runnable}} runnable, {{.Suspended}} suspended, {{.Halted}} halted, {{.Faulted}} faulted</div>
    </div>
    <div class="card">
        <div class="label">Programs</div>
        <div class="value">{{formatNumber .Images}}</div>
        <div class="sub">{{formatNumber .ImageWords}} words</div>
    </div>
    <div class="card">
        <div class="label">Checkpoints</div>
        <div class="value">{{.Checkpoints}}</div>
    </div>
</div>

<h2>Sessions</h2>
<table>
    <tr><th>Created</th><td>{{formatNumber .Sessions.Created}}</td></tr>
    <tr><th>Closed</th><td>{{formatNumber .Sessions.Closed}}</td></tr>
    <tr><th>Reaped</th><td>{{formatNumber .Sessions.Reaped}}</td></tr>
    <tr><th>Restored</th><td>{{formatNumber .Sessions.Restored}}</td></tr>
</table>

{{if .LastError}}
<div class="error">Last error: {{.LastError}}</div>
{{end}}
`

const machinesTemplate = `
<h1>Machines</h1>
{{if .Machines}}
<table>
    <thead>
        <tr><th>ID</th><th>Program</th><th>Status</th><th>Steps</th><th>Memory</th><th>In</th><th>Out</th><th>Last used</th></tr>
    </thead>
    <tbody>
    {{range .Machines}}
        <tr>
            <td class="mono"><a href="/machines/{{.ID}}">{{truncateID .ID.String 8}}</a></td>
            <td class="mono">{{truncateID .Image.String 6}}</td>
            <td class="status-{{.Status}}">{{.Status}}</td>
            <td>{{formatNumber .Steps}}</td>
            <td>{{formatNumber .MemorySize}}</td>
            <td>{{.PendingInputs}}</td>
            <td>{{.PendingOutputs}}</td>
            <td>{{formatTime .LastUsed}}</td>
        </tr>
    {{end}}
    </tbody>
</table>
{{else}}
<p class="empty">No live machines.</p>
{{end}}
`

const machineDetailTemplate = `
{{with .Machine}}
<h1>Machine <span class="mono">{{.ID}}</span></h1>
<table>
    <tr><th>Program</th><td class="mono">{{.Image}}</td></tr>
    <tr><th>Status</th><td class="status-{{.Status}}">{{.Status}}</td></tr>
    {{if .Fault}}<tr><th>Fault</th><td class="bad">{{.Fault}}</td></tr>{{end}}
    <tr><th>Pointer</th><td>{{.Pointer}}</td></tr>
    <tr><th>Relative base</th><td>{{.RelativeBase}}</td></tr>
    <tr><th>Steps</th><td>{{.Steps}}</td></tr>
    <tr><th>Memory</th><td>{{.MemorySize}} words</td></tr>
    <tr><th>Pending inputs</th><td>{{.PendingInputs}}</td></tr>
    <tr><th>Pending outputs</th><td>{{.PendingOutputs}}</td></tr>
    <tr><th>Created</th><td>{{formatTime .CreatedAt}}</td></tr>
    <tr><th>Last used</th><td>{{formatTime .LastUsed}}</td></tr>
</table>
{{end}}

<h2>Memory</h2>
<pre class="listing">{{range .Listing}}{{.}}
{{end}}</pre>
{{if .Truncated}}<p class="empty">{{.Truncated}} more lines not shown.</p>{{end}}
`

const programsTemplate = `
<h1>Programs</h1>
{{if .Programs}}
<table>
    <thead><tr><th>ID</th><th>Name</th><th>Size</th><th>Loaded</th></tr></thead>
    <tbody>
    {{range .Programs}}
        <tr>
            <td class="mono">{{.ID}}</td>
            <td>{{.Name}}</td>
            <td>{{formatNumber .Size}}</td>
            <td>{{formatTime .CreatedAt}}</td>
        </tr>
    {{end}}
    </tbody>
</table>
{{else}}
<p class="empty">No programs loaded.</p>
{{end}}

<h2>Checkpoints</h2>
{{if .Checkpoints}}
<table>
    <thead><tr><th>Session</th><th>Program</th><th>Status</th><th>Memory</th><th>Saved</th></tr></thead>
    <tbody>
    {{range .Checkpoints}}
        <tr>
            <td class="mono">{{.Session}}</td>
            <td class="mono">{{truncateID .Image.String 6}}</td>
            <td class="status-{{.Status}}">{{.Status}}</td>
            <td>{{formatNumber .MemorySize}}</td>
            <td>{{formatTime .SavedAt}}</td>
        </tr>
    {{end}}
    </tbody>
</table>
{{else}}
<p class="empty">No checkpoints.</p>
{{end}}
`
