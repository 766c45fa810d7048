// Package proxy implements the per-job proxy rotation described in
// SPEC_FULL.md's supplemented features, grounded on original_source's
// ProxyManager: weighted random selection favouring the proxy with the
// best success rate (not strict round-robin), a region filter, a cooldown
// for failed proxies, and a failure-count-triggered permanent ban.
package proxy

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Status is a proxy's health state.
type Status string

const (
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
	StatusBanned  Status = "banned"
	StatusTesting Status = "testing"
)

// Details tracks one proxy's health and usage statistics.
type Details struct {
	URL              string
	Region           string
	Status           Status
	LastUsed         time.Time
	FailureCount     int
	SuccessCount     int
	AvgResponseTime  time.Duration
	LastFailureReason string
}

// Manager picks one proxy per request from a fixed list for one job,
// filtered by desired region. Selection is weighted random (see Next), so
// proxies are not visited in round-robin order.
type Manager struct {
	mu           sync.Mutex
	proxies      []*Details
	retryDelay   time.Duration
	maxFailures  int
	rand         *rand.Rand
}

// New builds a Manager from a job's proxy_list, with the given retry
// (cooldown) delay and failure threshold before a ban.
func New(proxyList []string, retryDelay time.Duration, maxFailures int) *Manager {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	proxies := make([]*Details, 0, len(proxyList))
	for _, url := range proxyList {
		proxies = append(proxies, &Details{URL: url, Status: StatusTesting})
	}
	return &Manager{
		proxies:     proxies,
		retryDelay:  retryDelay,
		maxFailures: maxFailures,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Empty reports whether there are no configured proxies (the caller
// should proceed without a proxy in that case).
func (m *Manager) Empty() bool {
	return len(m.proxies) == 0
}

// Next selects the next proxy, preferring the desired region if given,
// weighted 70/30 toward the single best-performing eligible proxy versus
// the rest, matching original_source's get_next_proxy. If no proxy is
// currently eligible, it returns the failed proxy that was used longest
// ago, even if its cooldown has not elapsed; it returns nil only when
// every proxy in the region is banned or there are none.
func (m *Manager) Next(desiredRegion string) *Details {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var eligible []*Details
	for _, p := range m.proxies {
		if desiredRegion != "" && p.Region != desiredRegion {
			continue
		}
		if p.Status == StatusActive || p.Status == StatusTesting {
			eligible = append(eligible, p)
			continue
		}
		if p.Status == StatusFailed && now.Sub(p.LastUsed) > m.retryDelay {
			eligible = append(eligible, p)
		}
	}

	if len(eligible) == 0 {
		return m.reviveOldestFailed(desiredRegion)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return successRate(eligible[i]) > successRate(eligible[j])
	})

	if len(eligible) > 1 && m.rand.Float64() < 0.7 {
		return eligible[0]
	}
	if len(eligible) > 1 {
		return eligible[1+m.rand.Intn(len(eligible)-1)]
	}
	return eligible[0]
}

func (m *Manager) reviveOldestFailed(desiredRegion string) *Details {
	var oldest *Details
	for _, p := range m.proxies {
		if desiredRegion != "" && p.Region != desiredRegion {
			continue
		}
		if p.Status != StatusFailed {
			continue
		}
		if oldest == nil || p.LastUsed.Before(oldest.LastUsed) {
			oldest = p
		}
	}
	if oldest != nil {
		oldest.Status = StatusTesting
	}
	return oldest
}

func successRate(p *Details) float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(p.SuccessCount) / float64(total)
}

// MarkGood records a successful request through a proxy.
func (m *Manager) MarkGood(url string, responseTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.find(url)
	if p == nil {
		return
	}
	p.Status = StatusActive
	p.SuccessCount++
	p.LastUsed = time.Now()
	if responseTime > 0 {
		if p.AvgResponseTime == 0 {
			p.AvgResponseTime = responseTime
		} else {
			p.AvgResponseTime = time.Duration(float64(p.AvgResponseTime)*0.8 + float64(responseTime)*0.2)
		}
	}
}

// MarkBad records a failed request; the proxy is banned once
// FailureCount reaches maxFailures.
func (m *Manager) MarkBad(url string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.find(url)
	if p == nil {
		return
	}
	p.FailureCount++
	p.LastUsed = time.Now()
	p.LastFailureReason = reason
	if p.FailureCount >= m.maxFailures {
		p.Status = StatusBanned
	} else {
		p.Status = StatusFailed
	}
}

func (m *Manager) find(url string) *Details {
	for _, p := range m.proxies {
		if p.URL == url {
			return p
		}
	}
	return nil
}

// Stats summarizes the pool's health, used for diagnostics.
type Stats struct {
	Total   int
	Active  int
	Failed  int
	Banned  int
	Testing int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	s.Total = len(m.proxies)
	for _, p := range m.proxies {
		switch p.Status {
		case StatusActive:
			s.Active++
		case StatusFailed:
			s.Failed++
		case StatusBanned:
			s.Banned++
		case StatusTesting:
			s.Testing++
		}
	}
	return s
}
