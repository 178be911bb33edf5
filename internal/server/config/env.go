package config

import (
	"os"
	"strconv"
)

// parseEnv overlays the secrets and connection strings that deployments
// usually inject through the environment. Unset variables are ignored.
//
//	DATABASE_DSN, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB,
//	JWT_ACCESS_TOKEN_SECRET, JWT_REFRESH_TOKEN_SECRET,
//	APP_ENV, LOG_LEVEL, ADMIN_EMAIL, ADMIN_PASSWORD
func parseEnv(config *Config) {
	lookup(&config.DatabaseDSN, "DATABASE_DSN")
	lookup(&config.RedisAddr, "REDIS_ADDR")
	lookup(&config.RedisPassword, "REDIS_PASSWORD")
	lookup(&config.AccessTokenSecret, "JWT_ACCESS_TOKEN_SECRET")
	lookup(&config.RefreshTokenSecret, "JWT_REFRESH_TOKEN_SECRET")
	lookup(&config.Environment, "APP_ENV")
	lookup(&config.LogLevel, "LOG_LEVEL")
	lookup(&config.AdminEmail, "ADMIN_EMAIL")
	lookup(&config.AdminPassword, "ADMIN_PASSWORD")

	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.RedisDB = n
		}
	}
}

func lookup(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
