package webcore

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	net.Conn
	id int
}

func TestWorkerPoolRunsAllSubmittedJobs(t *testing.T) {
	var handled atomic.Int32
	done := make(chan struct{})
	p := newWorkerPool(4, func(net.Conn) {
		if handled.Add(1) == 10 {
			close(done)
		}
	})

	for i := 0; i < 10; i++ {
		p.Submit(&fakeConn{id: i})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for jobs to be handled")
	}
	p.Close()
	assert.Equal(t, int32(10), handled.Load())
}

func TestWorkerPoolDefaultsSizeWhenNonPositive(t *testing.T) {
	p := newWorkerPool(0, func(net.Conn) {})
	assert.Equal(t, 64*4, cap(p.jobs))
	p.Close()
}

func TestWorkerPoolCloseWaitsForInFlightWork(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := newWorkerPool(1, func(net.Conn) {
		close(started)
		<-release
	})
	p.Submit(&fakeConn{id: 1})
	<-started

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-closed
}
