// Package config manages the process-wide environment/config surface of
// §6.4: RAM/file cache size knobs, proxy settings, and the CA bundle path.
// Each getter reads the current value from the KV store when called; this
// package does not listen for change events. Grounded on
// internal/config/settings.go's KV-backed ConfigManager, generalized from
// the teacher's AI-interface feature-flag keys to the spec's own key set.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"github.com/oniro-request/requestd/internal/kv"
)

const (
	KeyRAMCacheBytes   = "ram_cache_bytes"
	KeyFileCacheBytes  = "file_cache_bytes"
	KeyProxyHost       = "proxy_host"
	KeyProxyPort       = "proxy_port"
	KeyCABundlePath    = "ca_bundle_path"
	KeyControlToken    = "control_token"
	KeyControlPort     = "control_port"
)

const (
	defaultRAMCacheBytes  = 10 * 1024 * 1024
	defaultFileCacheBytes = 100 * 1024 * 1024
	defaultControlPort    = 4444
	defaultCABundlePath   = "/etc/ssl/certs/cacert.pem"
)

// Manager wraps kv.KV with typed getters/setters, matching the shape of
// internal/config/settings.go's ConfigManager.
type Manager struct {
	kv *kv.KV
}

func NewManager(store *kv.KV) *Manager {
	return &Manager{kv: store}
}

func (m *Manager) GetRAMCacheBytes() int64 {
	return m.getInt64(KeyRAMCacheBytes, defaultRAMCacheBytes)
}

func (m *Manager) SetRAMCacheBytes(n int64) error {
	return m.kv.SetString(KeyRAMCacheBytes, strconv.FormatInt(n, 10))
}

func (m *Manager) GetFileCacheBytes() int64 {
	return m.getInt64(KeyFileCacheBytes, defaultFileCacheBytes)
}

func (m *Manager) SetFileCacheBytes(n int64) error {
	return m.kv.SetString(KeyFileCacheBytes, strconv.FormatInt(n, 10))
}

func (m *Manager) GetControlPort() int {
	return int(m.getInt64(KeyControlPort, defaultControlPort))
}

func (m *Manager) SetControlPort(port int) error {
	return m.kv.SetString(KeyControlPort, strconv.Itoa(port))
}

func (m *Manager) GetCABundlePath() string {
	val, err := m.kv.GetString(KeyCABundlePath)
	if err != nil || val == "" {
		return defaultCABundlePath
	}
	return val
}

func (m *Manager) SetCABundlePath(path string) error {
	return m.kv.SetString(KeyCABundlePath, path)
}

func (m *Manager) GetProxy() (host string, port int) {
	host, _ = m.kv.GetString(KeyProxyHost)
	port = int(m.getInt64(KeyProxyPort, 0))
	return host, port
}

func (m *Manager) SetProxy(host string, port int) error {
	if err := m.kv.SetString(KeyProxyHost, host); err != nil {
		return err
	}
	return m.kv.SetString(KeyProxyPort, strconv.Itoa(port))
}

// GetControlToken returns the control-server bearer token, generating and
// persisting one on first use (as settings.generateSecureToken did).
func (m *Manager) GetControlToken() string {
	val, err := m.kv.GetString(KeyControlToken)
	if err != nil || val == "" {
		token := generateSecureToken()
		_ = m.kv.SetString(KeyControlToken, token)
		return token
	}
	return val
}

func (m *Manager) getInt64(key string, def int64) int64 {
	val, err := m.kv.GetString(key)
	if err != nil || val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func generateSecureToken() string {
	b := make([]byte, 16) // 16 bytes = 32 hex chars
	if _, err := rand.Read(b); err != nil {
		return "requestd-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}
