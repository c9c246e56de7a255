package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "dailyprompt/pkg/logx"
)

// Validator checks a candidate config before it replaces the current one.
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the committed config and fans validated reloads out to
// subscribers.
type Manager struct {
	path string

	mu     sync.RWMutex
	cfg    *Config
	digest [sha256.Size]byte

	// subMu is held across sends so Unsubscribe cannot close a channel mid-send.
	subMu sync.Mutex
	subs  map[chan *Config]struct{}

	log      logx.Logger
	validate Validator
}

func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		subs:     map[chan *Config]struct{}{},
		log:      logx.Nop(),
		validate: func(_ context.Context, cfg *Config) error { return Validate(cfg) },
	}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator replaces the check applied to reloads.
func (m *Manager) SetValidator(fn Validator) { m.validate = fn }

// Load reads, validates and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, digest(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) read() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, raw)
}

// Decode parses JSON, or YAML when path ends in .yaml or .yml. Unknown
// fields and trailing data are rejected.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	switch err := dec.Decode(new(json.RawMessage)); {
	case errors.Is(err, io.EOF):
		return cfg, nil
	case err == nil:
		return nil, fmt.Errorf("decode %s: trailing data", filepath.Base(path))
	default:
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
}

func (m *Manager) commit(cfg *Config, sum [sha256.Size]byte) {
	m.mu.Lock()
	m.cfg, m.digest = cfg, sum
	m.mu.Unlock()
}

func digest(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

// Subscribe returns a channel that receives each committed reload.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// broadcast hands cfg to every subscriber. A full channel has its oldest
// entry replaced so the latest config is never lost.
func (m *Manager) broadcast(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		if !replaceLatest(ch, cfg) {
			m.log.Debug("config update dropped for slow subscriber")
		}
	}
}

func replaceLatest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// reload re-reads the file and commits it when it changed and validates.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.read()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	sum := digest(cfg)
	m.mu.RLock()
	same := sum == m.digest
	m.mu.RUnlock()
	if same {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.commit(cfg, sum)
	m.broadcast(cfg)
	m.log.Info("config committed", logx.String("path", m.path), logx.String("sha256", fmt.Sprintf("%x", sum[:6])))
}
