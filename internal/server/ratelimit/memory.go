package ratelimit

import (
	"sync"
	"time"
)

// memoryLimiter is a token bucket per key. Buckets refill at
// Requests/Window tokens per second up to Requests.
type memoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewMemoryLimiter creates a limiter and starts a goroutine evicting idle
// buckets every two windows. Call Stop to end it.
func NewMemoryLimiter(cfg Config) Stoppable {
	l := &memoryLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	if cfg.Window > 0 {
		go l.evictLoop(2 * cfg.Window)
	}
	return l
}

func (l *memoryLimiter) Allow(key string) bool {
	if !l.cfg.Enabled {
		return true
	}
	if l.cfg.Requests <= 0 || l.cfg.Window <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.cfg.Requests)
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: capacity - 1, last: now}
		return true
	}

	rate := capacity / l.cfg.Window.Seconds()
	b.tokens = min(capacity, b.tokens+now.Sub(b.last).Seconds()*rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *memoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *memoryLimiter) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evict(every)
		case <-l.stopCh:
			return
		}
	}
}

// evict drops buckets untouched for idle. Such a bucket is full again, so
// dropping it changes nothing for its key.
func (l *memoryLimiter) evict(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.last) > idle {
			delete(l.buckets, key)
		}
	}
}
