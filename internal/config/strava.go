package config

import "time"

// StravaConfig holds Strava-specific configuration
type StravaConfig struct {
	ClientID      string `validate:"required"`
	ClientSecret  string `validate:"required"`
	APIBaseURL    string `validate:"required,url"`
	TokenURL      string `validate:"required,url"`
	RefreshMargin time.Duration
	RateLimit     RateLimitConfig
	Retry         RetryConfig
	Breaker       BreakerConfig
}

// RateLimitConfig is the provider's two-tier quota
type RateLimitConfig struct {
	WindowLimit int           `validate:"gt=0"`
	Window      time.Duration `validate:"gt=0"`
	DailyLimit  int           `validate:"gtefield=WindowLimit"`
}

// RetryConfig bounds per-request retries in the API client
type RetryConfig struct {
	MaxRetries     int `validate:"gt=0"`
	InitialBackoff time.Duration
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`
}

// BreakerConfig configures the API circuit breaker
type BreakerConfig struct {
	FailureThreshold uint32 `validate:"gt=0"`
	OpenTimeout      time.Duration
}

// DefaultStravaConfig returns the default Strava configuration
func DefaultStravaConfig() *StravaConfig {
	return &StravaConfig{
		APIBaseURL:    "https://www.strava.com/api/v3",
		TokenURL:      "https://www.strava.com/oauth/token",
		RefreshMargin: 5 * time.Minute,
		RateLimit: RateLimitConfig{
			WindowLimit: 100,
			Window:      15 * time.Minute,
			DailyLimit:  1000,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
	}
}

func loadStravaConfig() (*StravaConfig, error) {
	cfg := DefaultStravaConfig()
	cfg.ClientID = getEnv("STRAVA_CLIENT_ID", "")
	cfg.ClientSecret = getEnv("STRAVA_CLIENT_SECRET", "")
	cfg.APIBaseURL = getEnv("STRAVA_API_BASE_URL", cfg.APIBaseURL)
	cfg.TokenURL = getEnv("STRAVA_TOKEN_URL", cfg.TokenURL)

	var err error
	if cfg.RefreshMargin, err = getEnvDuration("TOKEN_REFRESH_MARGIN", cfg.RefreshMargin); err != nil {
		return nil, err
	}
	if cfg.RateLimit.WindowLimit, err = getEnvInt("RATE_LIMIT_WINDOW_REQUESTS", cfg.RateLimit.WindowLimit); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Window, err = getEnvDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window); err != nil {
		return nil, err
	}
	if cfg.RateLimit.DailyLimit, err = getEnvInt("RATE_LIMIT_DAILY_REQUESTS", cfg.RateLimit.DailyLimit); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxRetries, err = getEnvInt("STRAVA_MAX_RETRIES", cfg.Retry.MaxRetries); err != nil {
		return nil, err
	}
	return cfg, nil
}
