package eventstreamrpc

import (
	"context"
	"math"
	"sync"
	"time"
)

// ReconnectDelayStrategy chooses how long ConnectWithRetry waits before
// the next attempt against a given address.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(address string) (time.Duration, error)
	Reset()
}

// FixedDelayStrategy waits the same delay before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns Delay.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset does nothing; the delay has no state.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay by Factor after every attempt
// on the same address, up to MaxDelay.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  map[string]uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// GetConnectWaitDuration returns the delay for the next attempt on address.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(address string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if address == "" {
		address = "_default"
	}
	if strategy.attempts == nil {
		strategy.attempts = make(map[string]uint32)
	}

	attempt := strategy.attempts[address]
	strategy.attempts[address] = attempt + 1

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		grown := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if grown > float64(strategy.MaxDelay) {
			grown = float64(strategy.MaxDelay)
		}
		delay = time.Duration(grown)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay, nil
}

// Reset forgets all attempts.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}

// retryable reports whether a failed connect may succeed on another attempt.
// Argument errors and a rejected handshake will not.
func retryable(err RpcError) bool {
	switch err.StatusCode {
	case StatusConnectionSetupFailed, StatusCrtError, StatusConnectionClosed:
		return true
	}
	return false
}

// ConnectWithRetry calls Connect until it succeeds, ctx ends, or the
// failure is not retryable. It waits strategy's delay before each retry.
// The connection itself never reconnects on its own.
func ConnectWithRetry(
	ctx context.Context,
	connection *ClientConnection,
	config *ConnectionConfig,
	handler ConnectionLifecycleHandler,
	strategy ReconnectDelayStrategy,
) (RpcError, error) {
	if strategy == nil {
		strategy = NewFixedDelayStrategy(0)
	}
	address := ""
	if config != nil {
		address = config.HostName
	}

	for {
		result, err := connection.Connect(config, handler).Get(ctx)
		if err != nil {
			connection.Close()
			return RpcError{}, err
		}
		if result.OK() {
			strategy.Reset()
			return result, nil
		}
		if !retryable(result) {
			return result, nil
		}

		delay, err := strategy.GetConnectWaitDuration(address)
		if err != nil {
			return result, err
		}
		connection.impl.log.WithField("delay", delay).WithField("reason", result.String()).Warn("connect failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}
