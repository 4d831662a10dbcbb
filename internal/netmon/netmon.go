// Package netmon implements C2, the network monitor: a current bearer-type/
// online-offline snapshot with a change-event stream (§4.2).
package netmon

import (
	"net"
	"reflect"
	"sync"
	"time"
)

// Bearer is the transport carrying the current connection.
type Bearer int

const (
	BearerDefault Bearer = iota
	BearerCellular
	BearerWifi
	BearerBluetooth
	BearerEthernet
	BearerVpn
	BearerWifiAware
)

// State is the monitor's snapshot (§4.2): offline, or online with bearer
// attributes.
type State struct {
	Online       bool
	Bearer       Bearer
	Metered      bool
	Roaming      bool
	Capabilities map[string]bool
}

// Monitor owns the current NetworkState and broadcasts `Changed` events on
// transition, styled on the snapshot+subscribe-channel shape the teacher
// uses for BandwidthManager/CongestionController state.
type Monitor struct {
	mu    sync.RWMutex
	state State

	subMu sync.Mutex
	subs  []chan State

	probe func() bool
	stop  chan struct{}
}

// New creates a monitor with an initial offline state. probe, if non-nil,
// is polled on an interval to decide online/offline (defaults to a TCP dial
// probe against a DNS resolver).
func New(probe func() bool) *Monitor {
	if probe == nil {
		probe = defaultProbe
	}
	return &Monitor{probe: probe, stop: make(chan struct{})}
}

func defaultProbe() bool {
	conn, err := net.DialTimeout("tcp", "1.1.1.1:443", 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Snapshot returns the current network state.
func (m *Monitor) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel receiving every state change. Buffered by 1
// so a slow consumer doesn't block the poll loop; only the latest state is
// ever pending.
func (m *Monitor) Subscribe() <-chan State {
	ch := make(chan State, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// SetState forces a state (used by tests and by OS-level network-change
// callbacks the IPC layer would otherwise deliver).
func (m *Monitor) SetState(s State) {
	m.mu.Lock()
	changed := !reflect.DeepEqual(s, m.state)
	m.state = s
	m.mu.Unlock()
	if changed {
		m.broadcast(s)
	}
}

func (m *Monitor) broadcast(s State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// drop stale pending state, replace with latest
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// Run polls `probe` every interval and updates Online accordingly, until
// Stop is called. Bearer/metered/roaming are left to SetState since this
// module has no OS-level bearer-type API to call.
func (m *Monitor) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			online := m.probe()
			m.mu.Lock()
			s := m.state
			s.Online = online
			changed := s.Online != m.state.Online
			m.state = s
			m.mu.Unlock()
			if changed {
				m.broadcast(s)
			}
		}
	}
}

func (m *Monitor) Stop() {
	close(m.stop)
}
