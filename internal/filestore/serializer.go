package filestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrSerializerClosed is returned for operations submitted after Close.
var ErrSerializerClosed = errors.New("filestore: serializer closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Serializer runs submitted operations one at a time in submission order.
//
// A single goroutine owns the lane; an operation starts only after the
// previous one has settled. A failing or panicking operation does not
// affect the ones queued behind it.
type Serializer struct {
	jobs    chan job
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewSerializer starts a serializer lane.
func NewSerializer() *Serializer {
	s := &Serializer{
		jobs:    make(chan job, 64),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serializer) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stopCh:
			for {
				select {
				case j := <-s.jobs:
					j.done <- ErrSerializerClosed
				default:
					return
				}
			}
		case j := <-s.jobs:
			j.done <- s.exec(j)
		}
	}
}

func (s *Serializer) exec(j job) (err error) {
	// Skip work whose caller gave up while it was queued.
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filestore: serialized operation panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Do queues fn and blocks until it has run. Once queued the call waits for
// fn to settle even if ctx is cancelled; fn receives ctx and is expected to
// abort its own I/O.
func (s *Serializer) Do(ctx context.Context, fn func(context.Context) error) error {
	if s.closed.Load() {
		return ErrSerializerClosed
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSerializerClosed
	}
	select {
	case err := <-j.done:
		return err
	case <-s.stopped:
		select {
		case err := <-j.done:
			return err
		default:
			return ErrSerializerClosed
		}
	}
}

// Close stops the lane. Operations still queued fail with ErrSerializerClosed.
func (s *Serializer) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	<-s.stopped
}

type serialized struct {
	Client
	lane *Serializer
}

// Serialized returns a Client whose Write and Remove calls pass through lane.
// Reads are not serialized.
func Serialized(c Client, lane *Serializer) Client {
	return &serialized{Client: c, lane: lane}
}

func (s *serialized) Write(ctx context.Context, req WriteRequest) error {
	return s.lane.Do(ctx, func(ctx context.Context) error {
		return s.Client.Write(ctx, req)
	})
}

func (s *serialized) Remove(ctx context.Context, req RemoveRequest) error {
	return s.lane.Do(ctx, func(ctx context.Context) error {
		return s.Client.Remove(ctx, req)
	})
}
