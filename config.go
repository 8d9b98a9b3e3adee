package purge

import "github.com/JeremyLoy/config"

// Config is the process-level configuration of a purge daemon. Engine parameters
// (tiers, weights, windows) are code-level options, not environment knobs.
type Config struct {
	RedisAddress  string `config:"PURGE_REDIS_ADDRESS"`
	RedisPassword string `config:"PURGE_REDIS_PASSWORD"`
	Namespace     string `config:"PURGE_NAMESPACE"`
	Port          string `config:"PURGE_PORT"`
	// StatsdAddress enables metrics when set; empty leaves the no-op client in place.
	StatsdAddress string `config:"PURGE_STATSD_ADDRESS"`
}

func LoadConfig() Config {
	cfg := Config{
		RedisAddress: "localhost:6379",
		Namespace:    "purge",
		Port:         "4040",
	}
	if err := config.FromEnv().To(&cfg); err != nil {
		panic(err)
	}
	return cfg
}
