// Package dashboard provides an embedded web dashboard for monitoring an
// Intcode node.
//
// The dashboard provides:
// - Node health and session counters
// - A live machine browser with per-machine memory disassembly
// - The stored program images and saved checkpoints
// - Runtime metrics (memory, goroutines, uptime)
//
// Pages and assets are compiled into the binary; the dashboard is read-only
// and never mutates sessions.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/session"
)

// Dashboard errors.
var (
	ErrAlreadyRunning = errors.New("dashboard already running")
	ErrConfigInvalid  = errors.New("invalid dashboard configuration")
)

// maxListing bounds the number of disassembly lines rendered for a machine.
const maxListing = 2000

// Config holds dashboard configuration options.
type Config struct {
	// BindAddress is the address to bind to.
	BindAddress string `toml:"bind_address"`

	// Port is the TCP port. Zero picks a free port.
	Port int `toml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `toml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `toml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration `toml:"idle_timeout"`
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:  "127.0.0.1",
		Port:         8647,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfigInvalid, c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrConfigInvalid)
	}
	return nil
}

// NodeStats provides node-level status to the dashboard.
type NodeStats interface {
	// IsRunning returns true if the node is running.
	IsRunning() bool

	// Uptime returns how long the node has been running.
	Uptime() time.Duration

	// LastError returns the last background error, if any.
	LastError() error
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config    Config
	server    *http.Server
	manager   *session.Manager
	nodeStats NodeStats

	templates *template.Template

	mu        sync.RWMutex
	running   bool
	addr      net.Addr
	startTime time.Time
}

// New creates a new dashboard server. stats may be nil, in which case uptime
// is measured from Start.
func New(config Config, manager *session.Manager, stats NodeStats) (*Dashboard, error) {
	if config.BindAddress == "" {
		config.BindAddress = DefaultConfig().BindAddress
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Dashboard{
		config:    config,
		manager:   manager,
		nodeStats: stats,
		startTime: time.Now(),
	}

	tmpl, err := d.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl

	return d, nil
}

// parseTemplates parses all embedded templates.
func (d *Dashboard) parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatBytes":    formatBytes,
		"formatTime":     formatTime,
		"truncateID":     truncateID,
	}

	tmpl := template.New("").Funcs(funcMap)

	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	templates := map[string]string{
		"home":     homeTemplate,
		"machines": machinesTemplate,
		"machine":  machineDetailTemplate,
		"programs": programsTemplate,
	}

	for name, content := range templates {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	return tmpl, nil
}

// Handler returns the dashboard's HTTP handler.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/static/", d.handleStatic)

	// Page routes
	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/machines", d.handleMachines)
	mux.HandleFunc("/machines/", d.handleMachineDetail)
	mux.HandleFunc("/programs", d.handlePrograms)

	// API routes
	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/machines", d.handleAPIMachines)
	mux.HandleFunc("/api/machines/", d.handleAPIMachine)
	mux.HandleFunc("/api/programs", d.handleAPIPrograms)
	mux.HandleFunc("/api/checkpoints", d.handleAPICheckpoints)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)

	return mux
}

// Start starts the dashboard HTTP server and blocks until it stops.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(d.config.BindAddress, fmt.Sprintf("%d", d.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	d.running = true
	d.addr = ln.Addr()
	d.startTime = time.Now()
	server := d.server
	d.mu.Unlock()

	log.Printf("[DASHBOARD] Listening on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	server := d.server
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Address returns the address the dashboard is listening on, or "" before
// Start.
func (d *Dashboard) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.addr == nil {
		return ""
	}
	return d.addr.String()
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	d.renderPage(w, "home", d.getStatus())
}

// handleMachines renders the live machine list.
func (d *Dashboard) handleMachines(w http.ResponseWriter, r *http.Request) {
	d.renderPage(w, "machines", map[string]interface{}{
		"Machines": d.listMachines(),
	})
}

// handleMachineDetail renders one machine with a disassembly of its memory.
func (d *Dashboard) handleMachineDetail(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseSessionID(strings.TrimPrefix(r.URL.Path, "/machines/"))
	if err != nil {
		http.Error(w, "Invalid machine ID", http.StatusBadRequest)
		return
	}

	info, err := d.manager.Info(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data := map[string]interface{}{
		"Machine": info,
	}
	if mem, err := d.manager.Memory(id); err == nil {
		lines := intcode.Disassemble(mem)
		if len(lines) > maxListing {
			data["Truncated"] = len(lines) - maxListing
			lines = lines[:maxListing]
		}
		data["Listing"] = lines
	}
	d.renderPage(w, "machine", data)
}

// handlePrograms renders the stored images and saved checkpoints.
func (d *Dashboard) handlePrograms(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}
	if images, err := d.manager.Images().List(); err == nil {
		data["Programs"] = images
	}
	if sums, err := d.manager.Checkpoints(); err == nil {
		data["Checkpoints"] = sums
	}
	d.renderPage(w, "programs", data)
}

// handleStatic serves the embedded assets.
func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")

	content, contentType, ok := getStaticAsset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(content))
}

// getStatus returns the current node status.
func (d *Dashboard) getStatus() StatusResponse {
	var status StatusResponse

	if d.nodeStats != nil {
		status.IsRunning = d.nodeStats.IsRunning()
		status.UptimeSeconds = d.nodeStats.Uptime().Seconds()
		if err := d.nodeStats.LastError(); err != nil {
			status.LastError = err.Error()
		}
	} else {
		status.IsRunning = true
		status.UptimeSeconds = time.Since(d.startTime).Seconds()
	}
	status.Uptime = formatDuration(time.Duration(status.UptimeSeconds * float64(time.Second)))
	status.Sessions = d.manager.Stats()

	if stats, err := d.manager.Images().Stats(); err == nil {
		status.Images = stats.ImageCount
		status.ImageWords = stats.TotalWords
	}
	if sums, err := d.manager.Checkpoints(); err == nil {
		status.Checkpoints = len(sums)
	}

	for _, info := range d.manager.List() {
		switch info.Status {
		case intcode.StatusRunnable:
			status.Runnable++
		case intcode.StatusSuspended:
			status.Suspended++
		case intcode.StatusHalted:
			status.Halted++
		case intcode.StatusFaulted:
			status.Faulted++
		}
	}

	if !status.IsRunning {
		status.State = "Stopped"
	} else {
		status.State = "Running"
	}
	return status
}

// listMachines returns live machines, most recently used first.
func (d *Dashboard) listMachines() []session.Info {
	infos := d.manager.List()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastUsed.After(infos[j].LastUsed)
	})
	return infos
}

// renderPage renders a page template inside the layout.
func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}

	if err := d.templates.ExecuteTemplate(w, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n interface{}) string {
	switch v := n.(type) {
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case uint64:
		return formatInt(int64(v))
	case float64:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatInt(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func truncateID(s string, n int) string {
	if len(s) <= n*2+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}
