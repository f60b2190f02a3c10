package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/pkg/rpc"
)

// Default configuration values.
const (
	DefaultHealthCheckPeriod = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second

	// DefaultMaxFailures is the number of consecutive failures after which
	// an endpoint is marked unhealthy.
	DefaultMaxFailures = 3
)

// endpointState represents the health state of an endpoint.
type endpointState struct {
	url       string
	healthy   atomic.Bool
	lastCheck atomic.Int64 // Unix nano timestamp
	latency   atomic.Int64 // nanoseconds of the last successful call
	failCount atomic.Int32
}

// Pool manages a set of node endpoints with health checking.
//
// Sessions live on a single node, so the pool fails over in priority order
// instead of spreading calls: GetHealthy always returns the first healthy
// endpoint in the order they were added. Endpoints are probed with getHealth
// and marked unhealthy after DefaultMaxFailures consecutive failures.
type Pool struct {
	endpoints []*endpointState
	mu        sync.RWMutex

	healthCheckPeriod time.Duration
	requestTimeout    time.Duration
	maxFailures       int32

	client *http.Client

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	onHealthChange func(url string, healthy bool)
}

// NewPool creates a pool over urls. All endpoints start healthy.
// The health check loop is not started until Start() is called.
func NewPool(urls ...string) *Pool {
	p := &Pool{
		healthCheckPeriod: DefaultHealthCheckPeriod,
		requestTimeout:    DefaultRequestTimeout,
		maxFailures:       DefaultMaxFailures,
		client: &http.Client{
			Timeout: DefaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.AddEndpoints(urls)
	return p
}

// SetHealthCheckPeriod sets the interval between health checks.
// Must be called before Start().
func (p *Pool) SetHealthCheckPeriod(period time.Duration) {
	p.healthCheckPeriod = period
}

// SetRequestTimeout sets the timeout for health check requests.
// Must be called before Start().
func (p *Pool) SetRequestTimeout(timeout time.Duration) {
	p.requestTimeout = timeout
	p.client.Timeout = timeout
}

// SetMaxFailures sets the consecutive failure count that marks an endpoint
// unhealthy. Must be called before Start().
func (p *Pool) SetMaxFailures(n int) {
	if n > 0 {
		p.maxFailures = int32(n)
	}
}

// SetOnHealthChange sets a callback invoked when an endpoint changes health.
// Must be called before Start().
func (p *Pool) SetOnHealthChange(callback func(url string, healthy bool)) {
	p.onHealthChange = callback
}

// AddEndpoint adds an endpoint at the lowest priority. Duplicates are ignored.
func (p *Pool) AddEndpoint(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ep := range p.endpoints {
		if ep.url == url {
			return
		}
	}

	ep := &endpointState{url: url}
	ep.healthy.Store(true)
	p.endpoints = append(p.endpoints, ep)
}

// AddEndpoints adds multiple endpoints in order.
func (p *Pool) AddEndpoints(urls []string) {
	for _, url := range urls {
		p.AddEndpoint(url)
	}
}

// RemoveEndpoint removes an endpoint from the pool.
func (p *Pool) RemoveEndpoint(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, ep := range p.endpoints {
		if ep.url == url {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			return
		}
	}
}

// GetHealthy returns the highest priority healthy endpoint URL.
func (p *Pool) GetHealthy() (string, error) {
	if p.closed.Load() {
		return "", ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.endpoints) == 0 {
		return "", ErrNoEndpoints
	}

	for _, ep := range p.endpoints {
		if ep.healthy.Load() {
			return ep.url, nil
		}
	}
	return "", ErrNoHealthyEndpoints
}

// MarkSuccess records a successful call to url.
func (p *Pool) MarkSuccess(url string, latency time.Duration) {
	ep := p.find(url)
	if ep == nil {
		return
	}
	ep.failCount.Store(0)
	ep.latency.Store(int64(latency))
	p.setHealthy(ep, true)
}

// MarkFailure records a failed call to url. The endpoint turns unhealthy
// once its consecutive failures reach the limit.
func (p *Pool) MarkFailure(url string) {
	ep := p.find(url)
	if ep == nil {
		return
	}
	if ep.failCount.Add(1) >= p.maxFailures {
		p.setHealthy(ep, false)
	}
}

func (p *Pool) find(url string) *endpointState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ep := range p.endpoints {
		if ep.url == url {
			return ep
		}
	}
	return nil
}

func (p *Pool) setHealthy(ep *endpointState, healthy bool) {
	if ep.healthy.Swap(healthy) != healthy && p.onHealthChange != nil {
		p.onHealthChange(ep.url, healthy)
	}
}

// HealthyCount returns the number of currently healthy endpoints.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, ep := range p.endpoints {
		if ep.healthy.Load() {
			count++
		}
	}
	return count
}

// TotalCount returns the total number of endpoints in the pool.
func (p *Pool) TotalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// Start runs an initial health check and then starts the health check loop.
// The loop stops when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	if p.closed.Load() || p.started.Swap(true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.performHealthCheck()

	p.wg.Add(1)
	go p.healthCheckLoop()
}

// Stop stops the health check loop. GetHealthy fails afterwards.
func (p *Pool) Stop() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.client.CloseIdleConnections()
}

// healthCheckLoop periodically performs health checks on all endpoints.
func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.performHealthCheck()
		}
	}
}

// performHealthCheck probes all endpoints concurrently.
func (p *Pool) performHealthCheck() {
	p.mu.RLock()
	endpoints := make([]*endpointState, len(p.endpoints))
	copy(endpoints, p.endpoints)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep *endpointState) {
			defer wg.Done()
			p.checkEndpoint(ep)
		}(ep)
	}
	wg.Wait()
}

// checkEndpoint probes a single endpoint.
func (p *Pool) checkEndpoint(ep *endpointState) {
	start := time.Now()
	err := p.probe(ep.url)
	ep.lastCheck.Store(time.Now().UnixNano())

	if err != nil {
		p.MarkFailure(ep.url)
		return
	}
	p.MarkSuccess(ep.url, time.Since(start))
}

// probe calls getHealth on url.
func (p *Pool) probe(url string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.requestTimeout)
	defer cancel()

	body, err := json.Marshal(rpc.Request{
		JSONRPC: rpc.JSONRPCVersion,
		ID:      1,
		Method:  "getHealth",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	return nil
}

// EndpointStatus returns the status of all endpoints in priority order.
func (p *Pool) EndpointStatus() []EndpointInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]EndpointInfo, len(p.endpoints))
	for i, ep := range p.endpoints {
		infos[i] = EndpointInfo{
			URL:       ep.url,
			Healthy:   ep.healthy.Load(),
			Latency:   time.Duration(ep.latency.Load()),
			FailCount: int(ep.failCount.Load()),
		}
		if ts := ep.lastCheck.Load(); ts != 0 {
			infos[i].LastCheck = time.Unix(0, ts)
		}
	}
	return infos
}

// EndpointInfo contains status information about an endpoint.
type EndpointInfo struct {
	URL       string
	Healthy   bool
	Latency   time.Duration
	LastCheck time.Time
	FailCount int
}
