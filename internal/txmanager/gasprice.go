package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/compose-network/mortar/configs"
	"github.com/sethvargo/go-retry"
)

var ErrGasPriceBackoffExceeded = errors.New("gas price backoff exceeded")

type (
	// GasPricePolicy waits for the network gas price to drop under MaxPrice.
	GasPricePolicy struct {
		MaxPrice     *big.Int
		BackoffDelay time.Duration
		MaxRetries   int
	}

	GasPriceBackoffExceededError struct {
		LastPrice *big.Int
		MaxPrice  *big.Int
	}
)

// PolicyFromConfig returns nil when no ceiling is configured.
func PolicyFromConfig(cfg configs.GasPrice) *GasPricePolicy {
	maxPrice := cfg.MaxPriceWei()
	if maxPrice == nil {
		return nil
	}
	return &GasPricePolicy{
		MaxPrice:     maxPrice,
		BackoffDelay: cfg.BackoffDelay,
		MaxRetries:   cfg.NumberOfRetries,
	}
}

func (e *GasPriceBackoffExceededError) Error() string {
	return fmt.Sprintf("gas price %s wei still above the maximum of %s wei after backoff", e.LastPrice, e.MaxPrice)
}

func (e *GasPriceBackoffExceededError) Is(target error) bool {
	return target == ErrGasPriceBackoffExceeded
}

// GasPrice returns the current gas price. With a policy, a price above the
// ceiling is fetched again after the backoff delay until the retry budget runs out.
func (m *Manager) GasPrice(ctx context.Context) (*big.Int, error) {
	if m.policy == nil {
		price, err := m.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return price, nil
	}

	var last *big.Int
	backoff := retry.WithMaxRetries(uint64(m.policy.MaxRetries), retry.NewConstant(m.policy.BackoffDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		price, err := m.backend.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}
		last = price
		if price.Cmp(m.policy.MaxPrice) > 0 {
			m.logger.
				With("gas_price", price.String()).
				With("max_price", m.policy.MaxPrice.String()).
				With("delay", m.policy.BackoffDelay).
				Warn("gas price above maximum; backing off")
			return retry.RetryableError(errors.New("gas price above maximum"))
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gas price backoff interrupted: %w", ctxErr)
		}
		if last != nil && last.Cmp(m.policy.MaxPrice) > 0 {
			return nil, &GasPriceBackoffExceededError{LastPrice: last, MaxPrice: m.policy.MaxPrice}
		}
		return nil, err
	}

	return last, nil
}
