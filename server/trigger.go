package server

import "sync"

// trigger is a re-armable broadcast signal. Fire closes the current channel,
// waking every goroutine holding it, then arms a fresh channel for the next
// cycle. A channel obtained from C is only ever closed once.
type trigger struct {
	mu sync.Mutex
	ch chan struct{}
}

func newTrigger() *trigger {
	return &trigger{ch: make(chan struct{})}
}

// C returns the channel for the current cycle
func (t *trigger) C() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

// Fire signals the current cycle and re-arms
func (t *trigger) Fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	close(t.ch)
	t.ch = make(chan struct{})
}
