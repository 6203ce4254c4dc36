package robothand

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// protocolEntry tracks one shared transport and how many holders it has.
type protocolEntry struct {
	protocol  ServoProtocol
	config    CommunicationConfig
	refCount  int64 // Atomic reference counter
	lastError error
	mu        sync.RWMutex
}

// ProtocolRegistry shares servo protocols between components that target
// the same transport. A serial port can only be opened once, so everything
// that talks to the hand goes through the shared instance.
type ProtocolRegistry struct {
	entries map[string]*protocolEntry // transport key -> entry
	mu      sync.RWMutex
	logger  logging.Logger
}

func NewProtocolRegistry(logger logging.Logger) *ProtocolRegistry {
	return &ProtocolRegistry{
		entries: make(map[string]*protocolEntry),
		logger:  logger,
	}
}

// registryKey identifies the transport an entry guards. Portless protocols
// (mock, i2c, pwm) share one instance per protocol name.
func registryKey(cfg CommunicationConfig) string {
	if cfg.SerialPort != "" {
		return cfg.SerialPort
	}
	return string(cfg.Protocol)
}

// Get returns the shared protocol for the config's transport, opening it
// on first use. Every successful Get must be paired with a Release of the
// same key.
func (r *ProtocolRegistry) Get(ctx context.Context, cfg *Config) (ServoProtocol, string, error) {
	key := registryKey(cfg.Communication)

	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()

	if exists {
		protocol, err := r.getExisting(entry, cfg, key)
		return protocol, key, err
	}
	protocol, err := r.openNew(ctx, cfg, key)
	return protocol, key, err
}

func (r *ProtocolRegistry) getExisting(entry *protocolEntry, cfg *Config, key string) (ServoProtocol, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.protocol == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached protocol open error: %w", entry.lastError)
		}
		return nil, fmt.Errorf("protocol not available for %s", key)
	}
	if !commConfigsEqual(entry.config, cfg.Communication) {
		refCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: %s already open with a different config (%d holder(s))", key, refCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.protocol, nil
}

func (r *ProtocolRegistry) openNew(ctx context.Context, cfg *Config, key string) (ServoProtocol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[key]; exists {
		return r.getExisting(entry, cfg, key)
	}

	entry := &protocolEntry{config: cfg.Communication}
	protocol, err := NewServoProtocol(ctx, cfg, r.logger)
	if err != nil {
		entry.lastError = err
		r.entries[key] = entry
		return nil, err
	}

	entry.protocol = protocol
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[key] = entry

	r.logger.Infof("opened shared %s protocol for %s", cfg.Communication.Protocol, key)
	return protocol, nil
}

// Release drops one holder. The transport closes when the last holder
// releases it.
func (r *ProtocolRegistry) Release(key string) {
	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()
	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return
	}
	if entry.protocol != nil {
		if err := entry.protocol.Close(); err != nil {
			r.logger.Warnf("error closing shared protocol for %s: %v", key, err)
		}
	}

	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()

	entry.protocol = nil
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 0)
}

// ForceClose closes the transport regardless of holders. Remaining holders
// get write errors; this is for recovering a wedged port.
func (r *ProtocolRegistry) ForceClose(key string) error {
	r.mu.Lock()
	entry, exists := r.entries[key]
	if exists {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.protocol != nil {
		err = entry.protocol.Close()
		entry.protocol = nil
	}
	atomic.StoreInt64(&entry.refCount, 0)
	entry.lastError = nil
	return err
}

// Status reports the holder count, availability, and a config summary for
// one transport key.
func (r *ProtocolRegistry) Status(key string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()
	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	refCount := atomic.LoadInt64(&entry.refCount)
	summary := fmt.Sprintf("%s: %s@%d", entry.config.Protocol, key, entry.config.BaudRate)
	return refCount, entry.protocol != nil, summary
}

func commConfigsEqual(a, b CommunicationConfig) bool {
	if a.Protocol != b.Protocol || a.SerialPort != b.SerialPort || a.BaudRate != b.BaudRate {
		return false
	}
	if a.I2CAddress != b.I2CAddress || a.I2CBus != b.I2CBus || a.PWMChip != b.PWMChip {
		return false
	}
	if len(a.PWMLines) != len(b.PWMLines) {
		return false
	}
	for ch, line := range a.PWMLines {
		if other, ok := b.PWMLines[ch]; !ok || other != line {
			return false
		}
	}
	return true
}
