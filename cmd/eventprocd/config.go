package main

import (
	"os"
	"strconv"
	"time"
)

// config holds the daemon configuration, loaded from environment variables.
type config struct {
	Namespace     string
	EventHub      string
	ConsumerGroup string
	ConnectionStr string

	StorageAccountURL    string
	StorageContainerName string

	LoadBalanceUpdate   time.Duration
	OwnershipExpiration time.Duration
	MaximumWaitTime     time.Duration

	MetricsBindAddress string
	LogLevel           int
}

func loadConfig() config {
	return config{
		Namespace:            envString("EVENTHUB_NAMESPACE", ""),
		EventHub:             envString("EVENTHUB_NAME", ""),
		ConsumerGroup:        envString("EVENTHUB_CONSUMER_GROUP", "$Default"),
		ConnectionStr:        envString("EVENTHUB_CONNECTION_STRING", ""),
		StorageAccountURL:    envString("CHECKPOINT_STORAGE_ACCOUNT_URL", ""),
		StorageContainerName: envString("CHECKPOINT_STORAGE_CONTAINER", "checkpoints"),
		LoadBalanceUpdate:    envDuration("LOAD_BALANCE_UPDATE", 10*time.Second),
		OwnershipExpiration:  envDuration("OWNERSHIP_EXPIRATION", 30*time.Second),
		MaximumWaitTime:      envDuration("MAXIMUM_WAIT_TIME", 60*time.Second),
		MetricsBindAddress:   envString("METRICS_BIND_ADDRESS", ":8080"),
		LogLevel:             envInt("LOG_LEVEL", 0),
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return defaultVal
}
