package syncstate

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/orion/tasksync/internal/logging"
	"go.uber.org/zap"
)

// MonitorConfig holds network check configuration.
type MonitorConfig struct {
	// Interval between checks
	Interval time.Duration

	// Timeout for a single check
	Timeout time.Duration

	// Logger for check results
	Logger *zap.Logger
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Interval: 5 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// Monitor reports connectivity by dialing a TCP address.
type Monitor struct {
	addr   string
	config *MonitorConfig
	dialer net.Dialer
	logger *zap.Logger
}

// NewMonitor creates a monitor for addr (host:port).
func NewMonitor(addr string, config *MonitorConfig) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultMonitorConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultMonitorConfig().Timeout
	}
	return &Monitor{
		addr:   addr,
		config: config,
		dialer: net.Dialer{Timeout: config.Timeout},
		logger: logging.OrNop(config.Logger).Named("netcheck"),
	}
}

// Addr returns the checked address.
func (m *Monitor) Addr() string {
	return m.addr
}

// Check dials the address once.
func (m *Monitor) Check(ctx context.Context) error {
	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", m.addr, err)
	}
	return conn.Close()
}

// Run checks every Interval until ctx is cancelled and calls fn with the
// first result and then on every change.
func (m *Monitor) Run(ctx context.Context, fn func(online bool)) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	var last *bool
	for {
		err := m.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		online := err == nil
		if last == nil || *last != online {
			last = &online
			if err != nil {
				m.logger.Info("network offline", zap.String("addr", m.addr), zap.Error(err))
			} else {
				m.logger.Info("network online", zap.String("addr", m.addr))
			}
			fn(online)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
