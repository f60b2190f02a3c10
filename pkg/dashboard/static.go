package dashboard

// getStaticAsset returns a static asset by name.
// Returns the content, content type, and whether the asset was found.
func getStaticAsset(name string) (content string, contentType string, ok bool) {
	switch name {
	case "style.css":
		return cssStyles, "text/css", true
	case "app.js":
		return jsApp, "application/javascript", true
	default:
		return "", "", false
	}
}

const cssStyles = `
:root {
    --bg: #111827;
    --panel: #1f2937;
    --border: #374151;
    --text: #f3f4f6;
    --muted: #9ca3af;
    --ok: #10b981;
    --warn: #f59e0b;
    --bad: #ef4444;
    --link: #60a5fa;
}

body { background: var(--bg); color: var(--text); font-family: system-ui, sans-serif; margin: 0; }
a { color: var(--link); text-decoration: none; }
nav { background: var(--panel); border-bottom: 1px solid var(--border); padding: 0 1.5rem; display: flex; gap: 1.5rem; height: 3.5rem; align-items: center; }
nav a { color: var(--muted); }
nav a.active, nav a.brand { color: var(--text); font-weight: 600; }
main { padding: 1.5rem; max-width: 72rem; margin: 0 auto; }
footer { color: var(--muted); text-align: center; font-size: 0.8rem; padding: 1rem; border-top: 1px solid var(--border); }

.cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(14rem, 1fr)); gap: 1rem; }
.card { background: var(--panel); border: 1px solid var(--border); border-radius: 0.5rem; padding: 1rem; }
.card .label { color: var(--muted); font-size: 0.85rem; }
.card .value { font-size: 1.75rem; font-weight: 700; }
.card .sub { color: var(--muted); font-size: 0.8rem; }

table { border-collapse: collapse; width: 100%; background: var(--panel); }
th, td { text-align: left; padding: 0.4rem 0.75rem; border-bottom: 1px solid var(--border); }
th { color: var(--muted); font-weight: 500; }

.mono, .listing { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
.listing { background: var(--panel); padding: 1rem; max-height: 40rem; overflow: auto; }
.ok, .status-halted { color: var(--ok); }
.status-suspended, .status-runnable { color: var(--warn); }
.bad, .status-faulted, .error { color: var(--bad); }
.empty { color: var(--muted); }
`

const jsApp = `
(function () {
    function updateTime() {
        var el = document.getElementById('current-time');
        if (el) { el.textContent = new Date().toUTCString(); }
    }
    updateTime();
    setInterval(updateTime, 1000);

    // Refresh the overview every 10 seconds.
    if (window.location.pathname === '/') {
        setTimeout(function () { window.location.reload(); }, 10000);
    }
})();
`
