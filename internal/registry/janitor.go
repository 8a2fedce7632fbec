package registry

import (
	"log"
	"sync"
	"time"
)

type JanitorConfig struct {
	Interval  time.Duration
	IdleAfter time.Duration
}

func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:  5 * time.Minute,
		IdleAfter: 30 * time.Minute,
	}
}

// Janitor periodically drops per-room lock entries for rooms nobody has
// touched in a while, so a long-running server doesn't accumulate an
// entry per room ever seen.
type Janitor struct {
	registry *Registry
	config   JanitorConfig
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewJanitor(registry *Registry, config JanitorConfig) *Janitor {
	return &Janitor{
		registry: registry,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	log.Printf("Registry janitor started (interval: %v, idle after: %v)",
		j.config.Interval, j.config.IdleAfter)
}

func (j *Janitor) Stop() {
	close(j.stop)
	j.wg.Wait()
	log.Println("Registry janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-j.config.IdleAfter)
			if n := j.registry.evictIdle(cutoff); n > 0 {
				log.Printf("Registry janitor evicted %d idle room entries", n)
			}
		}
	}
}
