package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// eventDedupe suppresses redelivered events by delivery key. Bounded so a
// long-running consumer never grows without limit.
type eventDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newEventDedupe(size int) *eventDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &eventDedupe{lru: c}
}

func (d *eventDedupe) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.lru.Get(key)
	return ok
}

// mark records key as processed. Only called after the event succeeded, so a
// failed delivery stays eligible for redelivery.
func (d *eventDedupe) mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Add(key, struct{}{})
}
