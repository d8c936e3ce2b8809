// Package cleanup runs periodic housekeeping for the devserver.
package cleanup

import (
	"time"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

// Task removes expired entries and reports how many it removed.
type Task struct {
	Name string
	Run  func() (int, error)
}

type CleanupService struct {
	tasks    []Task
	interval time.Duration
	clock    clockwork.Clock
	stopChan chan struct{}
	done     chan struct{}
}

func NewCleanupService(interval time.Duration, clock clockwork.Clock, tasks ...Task) *CleanupService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CleanupService{
		tasks:    tasks,
		interval: interval,
		clock:    clock,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs every task now and then on each interval until Stop. It blocks.
func (s *CleanupService) Start() {
	defer close(s.done)
	glog.Infof("Starting cleanup service (interval: %v, tasks: %d)", s.interval, len(s.tasks))

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	s.RunOnce()

	for {
		select {
		case <-ticker.Chan():
			s.RunOnce()
		case <-s.stopChan:
			glog.Infof("Stopping cleanup service")
			return
		}
	}
}

// Stop ends the loop and waits for it to return.
func (s *CleanupService) Stop() {
	close(s.stopChan)
	<-s.done
}

// RunOnce runs every task and returns the total number of entries removed.
func (s *CleanupService) RunOnce() int {
	total := 0
	for _, task := range s.tasks {
		count, err := task.Run()
		if err != nil {
			glog.Errorf("Error cleaning up %s: %v", task.Name, err)
			continue
		}
		if count > 0 {
			glog.V(1).Infof("Cleaned up %d %s", count, task.Name)
		}
		total += count
	}
	return total
}
