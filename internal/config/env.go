package config

import "strings"

const (
	EnvTelegramToken = "POMOBOT_TELEGRAM_TOKEN"
	EnvStoragePath   = "POMOBOT_STORAGE_PATH"
)

// applyEnv lets deployments keep secrets and paths out of the config file.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvStoragePath)); v != "" {
		cfg.Storage.Path = v
	}
}
