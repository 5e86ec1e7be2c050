package config

import "time"

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	Interval       time.Duration `validate:"gt=0"`
	PageSize       int           `validate:"gte=1,lte=200"`
	ItemLimit      int           `validate:"gte=0"`
	QueueSize      int           `validate:"gt=0"`
	TaskMaxRetries int           `validate:"gte=0"`
	TaskBackoff    time.Duration
	BatchConfig    BatchConfig
}

// BatchConfig holds batch processing configuration
type BatchConfig struct {
	Size       int `validate:"gt=0"`
	Workers    int `validate:"gt=0"`
	MaxRetries int `validate:"gte=0"`
	BatchDelay time.Duration
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:       time.Hour,
		PageSize:       100,
		ItemLimit:      0,
		QueueSize:      64,
		TaskMaxRetries: 3,
		TaskBackoff:    30 * time.Second,
		BatchConfig: BatchConfig{
			Size:       25,
			Workers:    4,
			MaxRetries: 2,
			BatchDelay: 100 * time.Millisecond,
		},
	}
}

func loadSyncConfig() (*SyncConfig, error) {
	cfg := DefaultSyncConfig()

	minutes, err := getEnvInt("SYNC_INTERVAL_MINUTES", int(cfg.Interval/time.Minute))
	if err != nil {
		return nil, err
	}
	cfg.Interval = time.Duration(minutes) * time.Minute

	if cfg.PageSize, err = getEnvInt("SYNC_PAGE_SIZE", cfg.PageSize); err != nil {
		return nil, err
	}
	if cfg.ItemLimit, err = getEnvInt("SYNC_ITEM_LIMIT", cfg.ItemLimit); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getEnvInt("SYNC_QUEUE_SIZE", cfg.QueueSize); err != nil {
		return nil, err
	}
	if cfg.TaskMaxRetries, err = getEnvInt("SYNC_TASK_RETRIES", cfg.TaskMaxRetries); err != nil {
		return nil, err
	}
	if cfg.BatchConfig.Workers, err = getEnvInt("SYNC_BATCH_WORKERS", cfg.BatchConfig.Workers); err != nil {
		return nil, err
	}
	return cfg, nil
}
