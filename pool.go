package webcore

import (
	"net"
	"sync"
)

// workerPool is the idiomatic-Go rendering of §5's "parallel OS-backed
// workers competing on a mutex-and-condvar protected queue of accepted
// sockets": a buffered channel replaces the explicit queue/condvar pair,
// and a fixed set of goroutines replaces the OS thread pool. Default
// size is Config.ThreadPoolSize (§6, default 64).
type workerPool struct {
	jobs chan net.Conn
	wg   sync.WaitGroup

	handle func(net.Conn)
}

// newWorkerPool starts size worker goroutines, each repeatedly pulling a
// connection off jobs and running handle on it synchronously — mirroring
// the teacher's one-worker-one-connection-at-a-time model (§5 "Each
// worker owns one connection at a time and runs its full keep-alive
// lifecycle synchronously").
func newWorkerPool(size int, handle func(net.Conn)) *workerPool {
	if size <= 0 {
		size = 64
	}
	p := &workerPool{
		jobs:   make(chan net.Conn, size*4),
		handle: handle,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

func (p *workerPool) run() {
	defer p.wg.Done()
	for conn := range p.jobs {
		p.handle(conn)
	}
}

// Submit enqueues an accepted connection. It blocks if every worker is
// busy and the queue is full, which is the channel's natural backpressure
// equivalent of §5's condvar-blocked accept loop.
func (p *workerPool) Submit(conn net.Conn) {
	p.jobs <- conn
}

// Close stops accepting new work and waits for in-flight connections to
// finish their current keep-alive loop (§5 shutdown: "Workers observing
// exiting exit their loops").
func (p *workerPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
