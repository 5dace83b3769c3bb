package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

/* Monitor tracks the liveness and latency of every configured upstream
 * endpoint. Records are created on first probe and only ever overwritten,
 * never deleted. A probe failure is recorded, not returned.
 */

// HealthRecord is the last known probe result for one endpoint
type HealthRecord struct {
	URL         string        `json:"url"`
	Role        string        `json:"role"`
	Reachable   bool          `json:"reachable"`
	Latency     time.Duration `json:"latency_ns"`
	LastChecked time.Time     `json:"last_checked"`
	LastError   string        `json:"last_error,omitempty"`
}

// Snapshot is a read-only view of all records plus an aggregate ratio
type Snapshot struct {
	Records        []HealthRecord `json:"records"`
	ReachableRatio float64        `json:"reachable_ratio"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// MonitorConfig holds probing knobs for the monitor
type MonitorConfig struct {
	// Interval between full probe cycles
	Interval time.Duration

	// ProbeTimeout bounds each individual liveness probe
	ProbeTimeout time.Duration
}

// DefaultMonitorConfig returns the standard probing cadence
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     5 * time.Minute,
		ProbeTimeout: 5 * time.Second,
	}
}

type Monitor struct {
	loader *Loader
	config MonitorConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*HealthRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor over the loader's endpoint lists
func NewMonitor(loader *Loader, config MonitorConfig, logger *slog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		loader:  loader,
		config:  config,
		client:  &http.Client{Timeout: config.ProbeTimeout},
		logger:  logger.With("component", "upstream_monitor"),
		records: make(map[string]*HealthRecord),
	}
}

// Start runs an immediate probe cycle and then one per interval until the
// context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.CheckAll(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// CheckAll probes every configured endpoint of both roles concurrently.
// Probe failures never propagate, they are recorded as unreachable.
func (m *Monitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, role := range []Role{Aggregator, Publisher} {
		for _, url := range m.loader.Endpoints(role) {
			wg.Add(1)
			go func(role Role, url string) {
				defer wg.Done()
				m.probe(ctx, role, url)
			}(role, url)
		}
	}
	wg.Wait()
}

// probe issues a lightweight HEAD request against the endpoint root.
// A 200 or 404 both count as reachable, anything else is a failure.
func (m *Monitor) probe(ctx context.Context, role Role, url string) {
	start := time.Now()

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	var reachable bool
	var errStr string

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url+"/", nil)
	if err != nil {
		errStr = err.Error()
	} else {
		resp, err := m.client.Do(req)
		if err != nil {
			errStr = err.Error()
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
				reachable = true
			} else {
				errStr = fmt.Sprintf("unexpected status %d", resp.StatusCode)
			}
		}
	}

	latency := time.Since(start)

	m.mu.Lock()
	m.records[recordKey(role, url)] = &HealthRecord{
		URL:         url,
		Role:        role.String(),
		Reachable:   reachable,
		Latency:     latency,
		LastChecked: time.Now(),
		LastError:   errStr,
	}
	m.mu.Unlock()

	if !reachable {
		m.logger.Warn("upstream endpoint unreachable",
			"role", role.String(),
			"url", url,
			"error", errStr,
		)
	} else {
		m.logger.Debug("upstream endpoint probed",
			"role", role.String(),
			"url", url,
			"latency", latency,
		)
	}
}

// BestEndpoint returns the reachable endpoint with the lowest latency for
// the role, or false when no endpoint of that role is currently reachable.
func (m *Monitor) BestEndpoint(role Role) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best string
	var bestLatency time.Duration
	for _, rec := range m.records {
		if rec.Role != role.String() || !rec.Reachable {
			continue
		}
		if best == "" || rec.Latency < bestLatency {
			best = rec.URL
			bestLatency = rec.Latency
		}
	}
	return best, best != ""
}

// ReachableEndpoints returns reachable endpoints of a role ordered fastest
// first, always including the statically configured default endpoint once
// as the final candidate even if unprobed or unreachable.
func (m *Monitor) ReachableEndpoints(role Role) []string {
	m.mu.RLock()
	reachable := make([]*HealthRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Role == role.String() && rec.Reachable {
			reachable = append(reachable, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(reachable, func(i, j int) bool {
		return reachable[i].Latency < reachable[j].Latency
	})

	urls := make([]string, 0, len(reachable)+1)
	def := m.loader.Default(role)
	seenDefault := false
	for _, rec := range reachable {
		urls = append(urls, rec.URL)
		if rec.URL == def {
			seenDefault = true
		}
	}
	if !seenDefault {
		urls = append(urls, def)
	}
	return urls
}

// Snapshot returns copies of every record and the overall reachability ratio
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]HealthRecord, 0, len(m.records))
	reachable := 0
	for _, rec := range m.records {
		records = append(records, *rec)
		if rec.Reachable {
			reachable++
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Role != records[j].Role {
			return records[i].Role < records[j].Role
		}
		return records[i].URL < records[j].URL
	})

	ratio := 0.0
	if len(records) > 0 {
		ratio = float64(reachable) / float64(len(records))
	}
	return Snapshot{
		Records:        records,
		ReachableRatio: ratio,
		CheckedAt:      time.Now(),
	}
}

func recordKey(role Role, url string) string {
	return role.String() + ":" + url
}
