package proxy

import (
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"recarmend/listingworker/helpers"
	"recarmend/listingworker/logger"
	errs "recarmend/listingworker/pkg/errors"
)

// Rotator hands out working SOCKS5 proxy addresses ranked by latency.
type Rotator interface {
	Refresh() error
	Current() (string, bool)
	MarkFailed(addr string)
	Len() int
}

// endpoint is a probed proxy address.
type endpoint struct {
	Addr    string
	Latency time.Duration
}

// Manager keeps a latency-ranked pool of SOCKS5 proxies built from a
// static address list and an optional fetched plain-text list.
type Manager struct {
	addrs       []string
	listURL     string
	dialTimeout time.Duration

	mu      sync.RWMutex
	working []endpoint

	log *logger.Logger
}

var _ Rotator = (*Manager)(nil)

// NewManager creates a proxy manager over the given static addresses and
// optional list URL. Neither source is contacted until Refresh.
func NewManager(addrs []string, listURL string) *Manager {
	return &Manager{
		addrs:       addrs,
		listURL:     listURL,
		dialTimeout: 5 * time.Second,
		log:         logger.ForProxy(),
	}
}

// Refresh probes all candidate addresses and rebuilds the working pool
// sorted by latency. An empty pool is not an error when candidates exist
// but none answered; callers fall back to direct connections.
func (m *Manager) Refresh() error {
	candidates := m.candidates()
	if len(candidates) == 0 {
		return errs.NewConfiguration("no proxy addresses configured", nil)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		working []endpoint
	)
	sem := make(chan struct{}, 10)

	for _, addr := range candidates {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			latency, err := m.probe(addr)
			if err != nil {
				m.log.WithField("proxy", addr).WithError(err).Debug().Msg("Proxy probe failed")
				return
			}
			mu.Lock()
			working = append(working, endpoint{Addr: addr, Latency: latency})
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	sort.Slice(working, func(i, j int) bool {
		return working[i].Latency < working[j].Latency
	})

	m.mu.Lock()
	m.working = working
	m.mu.Unlock()

	if len(working) == 0 {
		m.log.WithField("candidates", len(candidates)).Warn().Msg("No working proxies found")
	} else {
		m.log.WithFields(logger.Fields{
			"working": len(working),
			"fastest": working[0].Addr,
			"latency": working[0].Latency.String(),
		}).Info().Msg("Proxy pool refreshed")
	}
	return nil
}

// Current returns the fastest working proxy address.
func (m *Manager) Current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.working) == 0 {
		return "", false
	}
	return m.working[0].Addr, true
}

// MarkFailed drops an address from the working pool so the next Current
// call rotates to the following one.
func (m *Manager) MarkFailed(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ep := range m.working {
		if ep.Addr == addr {
			m.working = append(m.working[:i], m.working[i+1:]...)
			m.log.WithField("proxy", addr).Info().Msg("Proxy removed from pool")
			return
		}
	}
}

// Len returns the number of working proxies.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.working)
}

// candidates merges the static address list with the fetched one.
func (m *Manager) candidates() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	for _, addr := range m.addrs {
		if validAddr(addr) {
			add(addr)
		}
	}

	if m.listURL != "" {
		data, err := helpers.FetchSimply(m.listURL)
		if err != nil {
			m.log.WithField("url", m.listURL).WithError(err).Warn().Msg("Failed to fetch proxy list")
		} else {
			for _, addr := range ParseList(string(data)) {
				add(addr)
			}
		}
	}
	return out
}

// ParseList extracts host:port addresses from a plain-text proxy list,
// one per line, skipping blanks and # comments.
func ParseList(text string) []string {
	var addrs []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if validAddr(line) {
			addrs = append(addrs, line)
		}
	}
	return addrs
}

func validAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if p, err := net.LookupPort("tcp", port); err != nil || p <= 0 {
		return false
	}
	return true
}

// probe dials the address and performs a SOCKS5 no-auth handshake to
// verify the endpoint is actually a SOCKS proxy.
func (m *Manager) probe(addr string) (time.Duration, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, m.dialTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := socks5Handshake(conn); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// socks5Handshake sends a no-auth method negotiation and checks the reply.
func socks5Handshake(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetDeadline(time.Time{})

	// [VER, NMETHODS, METHODS] with VER=5 and the no-auth method only
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return err
	}

	resp := make([]byte, 2)
	if _, err := conn.Read(resp); err != nil {
		return err
	}
	if resp[0] != 0x05 || resp[1] != 0x00 {
		return errs.New(errs.ErrorTypeTransient, "proxy", "endpoint is not a no-auth SOCKS5 proxy", nil)
	}
	return nil
}
