package dispatch

import "sync"

// ErrorCounter counts consecutive all-failed delivery attempts per post
// (platform:a_id). It lives in memory only and starts empty on restart.
type ErrorCounter struct {
	mu sync.Mutex
	m  map[string]int
}

func NewErrorCounter() *ErrorCounter {
	return &ErrorCounter{m: map[string]int{}}
}

func (c *ErrorCounter) Inc(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]++
	return c.m[key]
}

func (c *ErrorCounter) Get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key]
}

func (c *ErrorCounter) Reset(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}
