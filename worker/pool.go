// Package worker runs deferred jobs on a fixed set of partitions. Jobs that
// share a key always land on the same partition, so they run one at a time and
// in the order they were submitted.
package worker

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/serialx/hashring"
	"github.com/sourcegraph/conc"
	"github.com/tevino/abool"
	"go.uber.org/atomic"
)

const DefaultQueueSize = 32

var logger = a2dp.ComponentLogger("worker")

// Stats is a snapshot of pool activity.
type Stats struct {
	Submitted  int64
	Processed  int64
	Partitions int
	Queued     []int
}

type partition struct {
	id    int
	queue chan func()
}

// Pool is a partitioned job queue.
type Pool struct {
	partitions []*partition
	nodes      map[string]int
	ring       *hashring.HashRing

	// guards queue sends against Close
	mu     sync.RWMutex
	closed *abool.AtomicBool
	wg     conc.WaitGroup

	submitted *atomic.Int64
	processed *atomic.Int64
}

// New starts a pool of n partitions with queueSize pending jobs each.
func New(n, queueSize int) (*Pool, error) {
	if n <= 0 {
		return nil, errors.Errorf("invalid partition count %v", n)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		partitions: make([]*partition, n),
		nodes:      make(map[string]int, n),
		closed:     abool.New(),
		submitted:  atomic.NewInt64(0),
		processed:  atomic.NewInt64(0),
	}

	names := make([]string, n)
	for i := range p.partitions {
		names[i] = "partition-" + strconv.Itoa(i)
		p.nodes[names[i]] = i
		p.partitions[i] = &partition{id: i, queue: make(chan func(), queueSize)}
	}
	p.ring = hashring.New(names)

	for _, pt := range p.partitions {
		pt := pt
		p.wg.Go(func() { p.run(pt) })
	}
	return p, nil
}

func (p *Pool) partitionFor(key string) *partition {
	node, ok := p.ring.GetNode(key)
	if !ok {
		return p.partitions[0]
	}
	return p.partitions[p.nodes[node]]
}

// Submit queues job behind every earlier job with the same key.
func (p *Pool) Submit(key string, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.IsSet() {
		return a2dp.ErrClosed
	}

	pt := p.partitionFor(key)
	select {
	case pt.queue <- job:
		p.submitted.Inc()
		return nil
	default:
		return errors.Wrapf(a2dp.ErrUnavailable, "partition %v queue full", pt.id)
	}
}

func (p *Pool) run(pt *partition) {
	for job := range pt.queue {
		p.execute(pt, job)
		p.processed.Inc()
	}
}

func (p *Pool) execute(pt *partition, job func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("partition %v: job panicked: %v", pt.id, r)
		}
	}()
	job()
}

// Close stops accepting jobs, runs the ones already queued and waits for them.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed.SetToIf(false, true) {
		p.mu.Unlock()
		return nil
	}
	for _, pt := range p.partitions {
		close(pt.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Pool) Stats() Stats {
	s := Stats{
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Partitions: len(p.partitions),
		Queued:     make([]int, len(p.partitions)),
	}
	for i, pt := range p.partitions {
		s.Queued[i] = len(pt.queue)
	}
	return s
}
