package ai

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"
)

// Handlers receive the events of one completion stream.
type Handlers struct {
	OnChunk func(content string)
	OnDone  func()
	OnError func(err error)
}

// Subscription consumes a stream on its own goroutine and forwards events to
// the handlers in arrival order. Exactly one of OnDone or OnError fires unless
// the subscription was detached first.
type Subscription struct {
	detached atomic.Bool
	done     chan struct{}
}

// Subscribe starts consuming reader.
func Subscribe(reader *schema.StreamReader[*schema.Message], handlers Handlers) *Subscription {
	sub := &Subscription{done: make(chan struct{})}
	go sub.run(reader, handlers)
	return sub
}

// Detach stops delivering events. The underlying request keeps running and is
// drained in the background; a handler call already in progress may finish.
func (s *Subscription) Detach() {
	s.detached.Store(true)
}

// Detached reports whether Detach was called.
func (s *Subscription) Detached() bool {
	return s.detached.Load()
}

// Done is closed once the stream has been fully consumed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(reader *schema.StreamReader[*schema.Message], handlers Handlers) {
	defer close(s.done)
	defer reader.Close()

	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			if !s.Detached() && handlers.OnDone != nil {
				handlers.OnDone()
			}
			return
		}
		if err != nil {
			if !s.Detached() && handlers.OnError != nil {
				handlers.OnError(err)
			}
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if !s.Detached() && handlers.OnChunk != nil {
			handlers.OnChunk(chunk.Content)
		}
	}
}
