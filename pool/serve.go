package pool

import (
	"context"
	"sync/atomic"
	"time"
)

var (
	// connectionRetryInterval is the amount of time to wait in between
	// retries when reconnecting to the pool.
	connectionRetryInterval = time.Second * 5

	// maxRetryInterval caps the scaled retry interval.
	maxRetryInterval = time.Minute
)

// Serve keeps the coordinator connected to the pool described by config until
// ctx is done.  Whenever the connection fails or ends, mining stops and the
// pool is dialed again after a delay that grows with the number of retries
// since the last successful registration.
func (c *Coordinator) Serve(ctx context.Context, config *ConnConfig) {
	for {
		client, err := Dial(config)
		if err != nil {
			log.Infof("Failed to connect to %s: %v", config.Host, err)
		} else {
			err = c.Run(ctx, client)
			client.Shutdown()
			if ctx.Err() == nil {
				log.Warnf("Lost pool connection to %s: %v", config.Host, err)
			}
		}
		if ctx.Err() != nil {
			return
		}

		// Scale the retry interval by the number of retries so there
		// is a backoff up to a max of 1 minute.
		retries := atomic.AddInt64(&c.retryCount, 1)
		scaledInterval := connectionRetryInterval.Nanoseconds() * retries
		scaledDuration := time.Duration(scaledInterval)
		if scaledDuration > maxRetryInterval {
			scaledDuration = maxRetryInterval
		}
		log.Infof("Retrying connection to %s in %s", config.Host, scaledDuration)

		select {
		case <-time.After(scaledDuration):
		case <-ctx.Done():
			return
		}
	}
}
