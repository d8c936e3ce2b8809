package batch

import "time"

// Config holds configuration for batch processing. The env tags are read
// under the prefix the embedding config chooses.
type Config struct {
	MaxBatchSize  int           `env:"MAX_SIZE" envDefault:"50"`
	BatchInterval time.Duration `env:"INTERVAL" envDefault:"200ms"`
	RetryAttempts int           `env:"RETRY_ATTEMPTS" envDefault:"2"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"500ms"`
}

// DefaultConfig returns the default configuration for batch processing
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  50,
		BatchInterval: 200 * time.Millisecond,
		RetryAttempts: 2,
		RetryBackoff:  500 * time.Millisecond,
	}
}

// ValidateConfig validates the batch configuration
func ValidateConfig(config Config) error {
	if config.MaxBatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if config.BatchInterval <= 0 {
		return ErrInvalidBatchInterval
	}

	if config.RetryAttempts < 0 {
		return ErrInvalidRetryAttempts
	}

	if config.RetryBackoff < 0 {
		return ErrInvalidRetryBackoff
	}

	return nil
}
