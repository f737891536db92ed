package pipeline

import "sync"

// Tick reports one finished item. It carries only the stage label; the
// consumer owns the running count.
type Tick struct {
	Stage string
}

// ProgressBus is an unbounded FIFO of ticks. Emit never blocks.
type ProgressBus struct {
	mu     sync.Mutex
	queue  []Tick
	notify chan struct{}
}

func NewProgressBus() *ProgressBus {
	return &ProgressBus{notify: make(chan struct{}, 1)}
}

func (b *ProgressBus) Emit(stage string) {
	b.mu.Lock()
	b.queue = append(b.queue, Tick{Stage: stage})
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled after Emit. One signal may cover several ticks, so a
// receiver should Drain after every wake-up.
func (b *ProgressBus) Ready() <-chan struct{} { return b.notify }

// Drain removes and returns every queued tick in emission order.
func (b *ProgressBus) Drain() []Tick {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}
