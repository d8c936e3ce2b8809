package session

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DefaultCheckInterval is how often the monitor re-validates the session.
const DefaultCheckInterval = 2 * time.Minute

type Monitor struct {
	manager  *Manager
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

func NewMonitor(manager *Manager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Monitor{
		manager:  manager,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs checks every interval and after each identity change until Stop.
func (m *Monitor) Start() {
	defer close(m.done)
	glog.Infof("session: starting monitor (interval: %v)", m.interval)

	ticker := m.manager.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.check()
		case <-m.manager.identityChanged:
			m.check()
		case <-m.stopChan:
			glog.Infof("session: stopping monitor")
			return
		}
	}
}

// Stop ends the loop and waits for it to return.
func (m *Monitor) Stop() {
	close(m.stopChan)
	<-m.done
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if err := m.manager.Check(ctx); err != nil {
		glog.Infof("session: monitor ended session: %v", err)
	}
}
