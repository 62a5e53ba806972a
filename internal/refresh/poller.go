package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// cycleTimeout bounds one scheduled refresh cycle end to end.
const cycleTimeout = 10 * time.Minute

// Poller triggers the pipeline on a fixed interval. It shares the refresh
// entry point with the manual trigger, so a manual refresh during a
// scheduled cycle is a no-op and vice versa.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a background poller over the pipeline.
func NewPoller(p *Pipeline, interval time.Duration) *Poller {
	return &Poller{
		pipeline: p,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop, running one cycle immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
			if err := p.pipeline.RefreshAll(ctx); err != nil {
				// Keep ticking; the next cycle gets a fresh chance.
				log.Error("refresh cycle failed", "err", err)
			}
			cancel()

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop stops the poller and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
