package common

import (
	"context"
	"sync"
	"time"
)

// StartLoopOnce starts a single goroutine loop at most once, standardizing
// the boilerplate shared by the trading tick and the wallet matching tick:
// once-guarded start, a derived cancelable context, and ticker lifecycle.
//
// If tick > 0 a ticker is created and its channel passed to run; otherwise
// tickC is nil and never fires. run owns the receive loop, which keeps ticks
// strictly sequential: a new tick cannot start while run is still handling
// the previous one.
func StartLoopOnce(
	parent context.Context,
	once *sync.Once,
	setCancel func(context.CancelFunc),
	tick time.Duration,
	run func(loopCtx context.Context, tickC <-chan time.Time),
) {
	start := func() {
		loopCtx, cancel := context.WithCancel(parent)
		if setCancel != nil {
			setCancel(cancel)
		}
		go func() {
			defer cancel()
			var tickC <-chan time.Time
			if tick > 0 {
				ticker := time.NewTicker(tick)
				tickC = ticker.C
				defer ticker.Stop()
			}
			run(loopCtx, tickC)
		}()
	}

	if once == nil {
		start()
		return
	}
	once.Do(start)
}
