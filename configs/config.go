package configs

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var Values Config

type (
	LedgerBackend string

	Config struct {
		Network  Network  `mapstructure:"network"`
		Signer   Signer   `mapstructure:"signer"`
		GasPrice GasPrice `mapstructure:"gas-price"`
		Ledger   Ledger   `mapstructure:"ledger"`
		TestEnv  TestEnv  `mapstructure:"test-env"`
		Log      Log      `mapstructure:"log"`
	}

	Network struct {
		ID     string `mapstructure:"id"`
		RPCURL string `mapstructure:"rpc-url"`
	}

	Signer struct {
		PrivateKeys []string `mapstructure:"private-keys"`
	}

	// GasPrice configures the optional gas price backoff policy. The policy is
	// disabled when MaxPrice is empty.
	GasPrice struct {
		MaxPrice        string        `mapstructure:"max-price"`
		BackoffDelay    time.Duration `mapstructure:"backoff-delay"`
		NumberOfRetries int           `mapstructure:"number-of-retries"`
	}

	Ledger struct {
		Backend LedgerBackend `mapstructure:"backend"`
		Dir     string        `mapstructure:"dir"`
		S3      S3            `mapstructure:"s3"`
	}

	S3 struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access-key"`
		SecretKey string `mapstructure:"secret-key"`
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		UseSSL    bool   `mapstructure:"use-ssl"`
		Prefix    string `mapstructure:"prefix"`
	}

	TestEnv struct {
		Image      string `mapstructure:"image"`
		Port       int    `mapstructure:"port"`
		PrivateKey string `mapstructure:"private-key"`
	}

	Log struct {
		Level string `mapstructure:"level"`
	}
)

const (
	LedgerBackendFile LedgerBackend = "file"
	LedgerBackendS3   LedgerBackend = "s3"
)

// Validate checks the settings needed to talk to a live network. When
// testEnv is set the RPC endpoint and signer come from the throwaway node, so
// they are not required here.
func (c *Config) Validate(testEnv bool) error {
	var errs []error

	if c.Network.ID == "" {
		errs = append(errs, errors.New("network.id is required"))
	}
	if !testEnv {
		if c.Network.RPCURL == "" {
			errs = append(errs, errors.New("network.rpc-url is required"))
		}
		if len(c.Signer.PrivateKeys) == 0 {
			errs = append(errs, errors.New("signer.private-keys requires at least one key"))
		}
	}
	for i, key := range c.Signer.PrivateKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("signer.private-keys[%d] is empty", i))
		}
	}

	if err := c.GasPrice.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Ledger.Validate(); err != nil {
		errs = append(errs, err)
	}

	if testEnv {
		if c.TestEnv.Image == "" {
			errs = append(errs, errors.New("test-env.image is required"))
		}
		if c.TestEnv.Port == 0 {
			errs = append(errs, errors.New("test-env.port is required"))
		}
		if c.TestEnv.PrivateKey == "" {
			errs = append(errs, errors.New("test-env.private-key is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func (g *GasPrice) Validate() error {
	if g.MaxPrice == "" {
		return nil
	}

	var errs []error
	if _, ok := new(big.Int).SetString(g.MaxPrice, 10); !ok {
		errs = append(errs, fmt.Errorf("gas-price.max-price must be a decimal wei amount, got '%s'", g.MaxPrice))
	}
	if g.BackoffDelay <= 0 {
		errs = append(errs, errors.New("gas-price.backoff-delay must be positive when max-price is set"))
	}
	if g.NumberOfRetries < 0 {
		errs = append(errs, errors.New("gas-price.number-of-retries must not be negative"))
	}

	return errors.Join(errs...)
}

// MaxPriceWei returns the configured ceiling, or nil when the backoff policy is disabled.
func (g *GasPrice) MaxPriceWei() *big.Int {
	if g.MaxPrice == "" {
		return nil
	}
	value, ok := new(big.Int).SetString(g.MaxPrice, 10)
	if !ok {
		return nil
	}
	return value
}

func (l *Ledger) Validate() error {
	switch l.Backend {
	case LedgerBackendFile:
		if l.Dir == "" {
			return errors.New("ledger.dir is required for the file backend")
		}
	case LedgerBackendS3:
		var errs []error
		if l.S3.Endpoint == "" {
			errs = append(errs, errors.New("ledger.s3.endpoint is required"))
		}
		if l.S3.Bucket == "" {
			errs = append(errs, errors.New("ledger.s3.bucket is required"))
		}
		if l.S3.AccessKey == "" || l.S3.SecretKey == "" {
			errs = append(errs, errors.New("ledger.s3.access-key and ledger.s3.secret-key are required"))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("ledger.backend must be either '%s' or '%s'", LedgerBackendFile, LedgerBackendS3)
	}

	return nil
}
