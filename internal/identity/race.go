package identity

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// raceWithTimeout runs op against a timer. Whichever settles first commits the
// outcome; the other side's result is observed and dropped. The context handed
// to op is cancelled once the race is decided, but a late result is discarded
// whether or not op honours that.
func raceWithTimeout[T any](
	ctx context.Context,
	clock clockwork.Clock,
	timeout time.Duration,
	operation string,
	logger *zap.SugaredLogger,
	op func(context.Context) (T, error),
) (T, error) {
	type outcome struct {
		val T
		err error
	}
	var (
		zero      T
		committed atomic.Bool
		done      = make(chan outcome, 1)
	)

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := clock.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		v, err := op(opCtx)
		if !committed.CompareAndSwap(false, true) {
			logger.Debugw("discarding late remote result", "operation", operation, "err", err)
			return
		}
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-timer.Chan():
		if committed.CompareAndSwap(false, true) {
			remoteTimeoutsTotal.WithLabelValues(operation).Inc()
			return zero, fmt.Errorf("%w: %s timed out after %s", ErrRemoteUnavailable, operation, timeout)
		}
	case <-ctx.Done():
		if committed.CompareAndSwap(false, true) {
			return zero, ctx.Err()
		}
	}
	// op committed just before the timer or ctx fired; its result is on the way
	o := <-done
	return o.val, o.err
}
