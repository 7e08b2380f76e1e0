package widget

import (
	"sync"
	"time"
)

// Scheduler owns the controller's timers. Stop cancels pending one-shots,
// ends every periodic task and waits for running ticks to return.
type Scheduler struct {
	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

// After runs fn once after d. It reports false once the scheduler is stopped.
func (s *Scheduler) After(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	// The callback takes s.mu first, so t is assigned before it reads it.
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		stopped := s.stopped
		delete(s.timers, t)
		s.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
	s.timers[t] = struct{}{}
	return true
}

// Every runs fn every d until Stop. Non-positive intervals are ignored.
func (s *Scheduler) Every(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || d <= 0 {
		return false
	}

	ticker := time.NewTicker(d)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return true
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	for t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
	s.mu.Unlock()

	s.wg.Wait()
}
