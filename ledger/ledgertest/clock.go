package ledgertest

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// StartTime is the time AdvancingClock starts at.
var StartTime = time.Date(2020, time.March, 1, 12, 0, 0, 0, time.UTC)

// AdvancingClock returns a test clock that jumps forward by the requested
// duration every time TickAfter is called, so that retry loops run without
// real sleeps while their deadlines are still honored.
func AdvancingClock(t *testing.T) *clock.TestClock {
	t.Helper()

	tickSignal := make(chan time.Duration)
	c := clock.NewTestClockWithTickSignal(StartTime, tickSignal)

	quit := make(chan struct{})
	t.Cleanup(func() {
		close(quit)
	})

	go func() {
		for {
			select {
			case d := <-tickSignal:
				c.SetTime(c.Now().Add(d))

			case <-quit:
				return
			}
		}
	}()

	return c
}
