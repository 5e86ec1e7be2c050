package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccountConfig is one tracked athlete read from <PREFIX>_* variables
type AccountConfig struct {
	Prefix       string
	AthleteID    int64  `validate:"gt=0"`
	Name         string `validate:"required"`
	Email        string `validate:"omitempty,email"`
	AccessToken  string
	RefreshToken string `validate:"required"`
	TokenExpires time.Time
}

func loadAccounts(prefixes []string) ([]AccountConfig, error) {
	accounts := make([]AccountConfig, 0, len(prefixes))
	for _, prefix := range prefixes {
		prefix = strings.ToUpper(prefix)
		env := func(key string) string { return getEnv(prefix+"_"+key, "") }

		idStr := env("ATHLETE_ID")
		if idStr == "" {
			return nil, fmt.Errorf("%s_ATHLETE_ID is required", prefix)
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s_ATHLETE_ID: %w", prefix, err)
		}

		var expires time.Time
		if v := env("TOKEN_EXPIRES"); v != "" {
			secs, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s_TOKEN_EXPIRES: %w", prefix, err)
			}
			expires = time.Unix(secs, 0).UTC()
		}

		name := env("NAME")
		if name == "" {
			name = strings.ToUpper(prefix[:1]) + strings.ToLower(prefix[1:])
		}

		accounts = append(accounts, AccountConfig{
			Prefix:       prefix,
			AthleteID:    id,
			Name:         name,
			Email:        env("EMAIL"),
			AccessToken:  env("ACCESS_TOKEN"),
			RefreshToken: env("REFRESH_TOKEN"),
			TokenExpires: expires,
		})
	}
	return accounts, nil
}

// validateAccounts rejects duplicate athlete ids and names
func validateAccounts(accounts []AccountConfig) error {
	ids := make(map[int64]string)
	names := make(map[string]string)
	for _, a := range accounts {
		if prev, ok := ids[a.AthleteID]; ok {
			return fmt.Errorf("invalid configuration: athlete id %d used by both %s and %s", a.AthleteID, prev, a.Prefix)
		}
		ids[a.AthleteID] = a.Prefix

		key := strings.ToLower(a.Name)
		if prev, ok := names[key]; ok {
			return fmt.Errorf("invalid configuration: athlete name %q used by both %s and %s", a.Name, prev, a.Prefix)
		}
		names[key] = a.Prefix
	}
	return nil
}
