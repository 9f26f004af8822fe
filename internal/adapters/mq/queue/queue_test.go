package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/bluffmeter/internal/adapters/mq/queue"
	"github.com/okian/bluffmeter/internal/adapters/repository"
)

func job(id string, v int64) queue.Job {
	return queue.Job{SessionID: id, Patch: repository.Patch{Version: v}}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity 2", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))
		So(q.Len(ctx), ShouldEqual, 0)

		Convey("When a job is enqueued", func() {
			So(q.Enqueue(ctx, job("s-1", 2)), ShouldBeNil)

			Convey("Then it is dequeued with an enqueue time", func() {
				So(q.Len(ctx), ShouldEqual, 1)
				got := <-q.Dequeue(ctx)
				So(got.SessionID, ShouldEqual, "s-1")
				So(got.Patch.Version, ShouldEqual, 2)
				So(got.EnqueuedAt.IsZero(), ShouldBeFalse)
				So(q.Len(ctx), ShouldEqual, 0)
			})
		})

		Convey("When the queue is full", func() {
			So(q.Enqueue(ctx, job("a", 1)), ShouldBeNil)
			So(q.Enqueue(ctx, job("b", 1)), ShouldBeNil)
			err := q.Enqueue(ctx, job("c", 1))

			Convey("Then enqueue fails fast", func() {
				So(errors.Is(err, queue.ErrFull), ShouldBeTrue)
				So(q.Len(ctx), ShouldEqual, 2)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Convey("Then the job is refused", func() {
				So(errors.Is(q.Enqueue(cctx, job("a", 1)), context.Canceled), ShouldBeTrue)
			})
		})

		Convey("When the queue is closed with a job pending", func() {
			So(q.Enqueue(ctx, job("a", 1)), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then new jobs are refused but the pending one drains", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(errors.Is(q.Enqueue(ctx, job("b", 1)), queue.ErrClosed), ShouldBeTrue)

				got, ok := <-q.Dequeue(ctx)
				So(ok, ShouldBeTrue)
				So(got.SessionID, ShouldEqual, "a")
				_, ok = <-q.Dequeue(ctx)
				So(ok, ShouldBeFalse)
				So(q.Close(), ShouldBeNil)
			})
		})
	})
}

func TestInMemoryQueueConcurrentAccess(t *testing.T) {
	Convey("Given producers and consumers sharing a queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		const producers, perProducer = 8, 100

		var consumed sync.WaitGroup
		seen := make(chan string, producers*perProducer)
		for i := 0; i < 4; i++ {
			consumed.Add(1)
			go func() {
				defer consumed.Done()
				for j := range q.Dequeue(ctx) {
					seen <- j.SessionID
				}
			}()
		}

		var produced sync.WaitGroup
		for p := 0; p < producers; p++ {
			produced.Add(1)
			go func(p int) {
				defer produced.Done()
				for i := 0; i < perProducer; i++ {
					for q.Enqueue(ctx, job(fmt.Sprintf("s-%d-%d", p, i), 1)) != nil {
						time.Sleep(time.Millisecond)
					}
				}
			}(p)
		}
		produced.Wait()
		So(q.Close(), ShouldBeNil)
		consumed.Wait()
		close(seen)

		Convey("Then every job is consumed exactly once", func() {
			unique := map[string]struct{}{}
			for id := range seen {
				unique[id] = struct{}{}
			}
			So(unique, ShouldHaveLength, producers*perProducer)
		})
	})
}
