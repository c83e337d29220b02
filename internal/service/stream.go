package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/watch"
)

// Stream is a live view over one document or query.
//
// LIFECYCLE:
// A single goroutine owns the stream. It loads the current value, hands it
// to the consumer on C, then sleeps until the store signals a change on the
// watched topic and loads again. C is unbuffered, so a value is either
// received or not delivered at all.
//
// Close stops the goroutine and waits for it to exit; C is closed by then,
// so once Close returns no further value can be received. The stream also
// ends on ctx cancellation or when the optional stop channel fires.
//
// Load failures never end the stream: the goroutine logs them and retries
// with exponential backoff until the load succeeds or the stream is closed.
type Stream[T any] struct {
	c    chan T
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// ProfileStream delivers the current profile and every later change.
type ProfileStream = Stream[model.Profile]

// FeedStream delivers the full ordered message list after every change.
type FeedStream = Stream[[]model.Message]

// C receives the stream's values. It is closed when the stream ends.
func (s *Stream[T]) C() <-chan T {
	return s.c
}

// Done is closed once the stream goroutine has exited.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close tears the stream down and waits for it. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// streamBackoff is the re-establish policy used after a failed load.
func streamBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Reset()
	return b
}

// startStream launches the stream goroutine. It takes ownership of listener.
// external may be nil.
func startStream[T any](
	ctx context.Context,
	listener *watch.Listener,
	load func(context.Context) (T, error),
	external <-chan struct{},
	logger *slog.Logger,
) *Stream[T] {
	s := &Stream[T]{
		c:    make(chan T),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.c)
		defer listener.Close()

		b := streamBackoff()
		for {
			v, err := load(ctx)
			if err != nil {
				wait := b.NextBackOff()
				logger.Warn("stream load failed, retrying",
					slog.Duration("retryIn", wait),
					slog.String("error", err.Error()),
				)
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
					continue
				case <-s.stop:
				case <-ctx.Done():
				case <-external:
				}
				timer.Stop()
				return
			}
			b.Reset()

			select {
			case s.c <- v:
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-external:
				return
			}

			select {
			case <-listener.C():
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-external:
				return
			}
		}
	}()

	return s
}
