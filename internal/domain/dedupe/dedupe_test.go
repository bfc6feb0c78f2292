package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	dedupe "github.com/okian/courtside/internal/domain/dedupe"
)

func TestRingDeduper(t *testing.T) {
	Convey("Given a new ring deduper", t, func() {
		ctx := context.Background()

		Convey("When recording message ids", func() {
			d := dedupe.NewRingDeduper()

			Convey("Then a new id is not seen and a repeat is", func() {
				So(d.SeenAndRecord(ctx, "msg-1"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "msg-1"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "msg-2"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When the bounded set overflows", func() {
			d := dedupe.NewRingDeduper(dedupe.WithMaxSize(3))
			for i := 0; i < 3; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("msg-%d", i)), ShouldBeFalse)
			}

			Convey("Then the oldest id is evicted first", func() {
				So(d.SeenAndRecord(ctx, "msg-3"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
				// msg-0 was evicted, the rest survive
				So(d.SeenAndRecord(ctx, "msg-0"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "msg-2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "msg-3"), ShouldBeTrue)
			})
		})

		Convey("When unrecording an id", func() {
			d := dedupe.NewRingDeduper(dedupe.WithMaxSize(10))
			So(d.SeenAndRecord(ctx, "msg-1"), ShouldBeFalse)
			d.Unrecord(ctx, "msg-1")

			Convey("Then the id can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "msg-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And unrecording an unknown id is a no-op", func() {
				d.Unrecord(ctx, "never-seen")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When unrecord and eviction interleave", func() {
			d := dedupe.NewRingDeduper(dedupe.WithMaxSize(2))
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "b"), ShouldBeFalse)
			d.Unrecord(ctx, "a")

			Convey("Then size stays consistent through slot reuse", func() {
				So(d.SeenAndRecord(ctx, "c"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "d"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When running in unbounded mode", func() {
			d := dedupe.NewRingDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 5000; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("msg-%d", i)), ShouldBeFalse)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 5000)
				So(d.SeenAndRecord(ctx, "msg-0"), ShouldBeTrue)
			})
		})
	})
}

func TestRingDeduperConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		ctx := context.Background()
		d := dedupe.NewRingDeduper(dedupe.WithMaxSize(10_000))

		const workers = 8
		const perWorker = 500

		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					// every worker replays the same id space
					if !d.SeenAndRecord(ctx, fmt.Sprintf("msg-%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is recorded exactly once", func() {
			So(fresh, ShouldEqual, perWorker)
			So(d.Size(), ShouldEqual, perWorker)
		})
	})
}
