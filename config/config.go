package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	VoteAPI    VoteAPIConfig    `yaml:"vote_api"`
	OrderWatch OrderWatchConfig `yaml:"orderwatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	OrderUpdatedTopicName string `yaml:"order_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type VoteAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// UseFake switches both binaries to the deterministic in-process panel.
	// Only for local runs; with it off missing credentials fail validation.
	UseFake bool `yaml:"use_fake"`
}

type OrderWatchConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentOrderTTLSeconds int `yaml:"current_order_ttl_seconds"`

	CheckRateLimitPerMinute int `yaml:"check_rate_limit_per_minute"`

	// Reconciler knobs. Zero values fall back to prod-like defaults:
	// run every 4h, page 100, batches of 5 with a 2s pause, 2h cooldown.
	ReconcileIntervalSeconds    int `yaml:"reconcile_interval_seconds"`
	ReconcilePageLimit          int `yaml:"reconcile_page_limit"`
	ReconcileBatchSize          int `yaml:"reconcile_batch_size"`
	ReconcileBatchDelaySeconds  int `yaml:"reconcile_batch_delay_seconds"`
	ReconcileCooldownSeconds    int `yaml:"reconcile_cooldown_seconds"`
	ReconcileLeaseSeconds       int `yaml:"reconcile_lease_seconds"`
	ReconcileCallTimeoutSeconds int `yaml:"reconcile_call_timeout_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyEnvOverrides()
	return &config, nil
}

// Секреты удобнее подкладывать через окружение, чтобы не хранить их в yaml.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ORDERWATCH_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("ORDERWATCH_VOTE_API_KEY"); v != "" {
		c.VoteAPI.APIKey = v
	}
	if v := os.Getenv("ORDERWATCH_VOTE_API_URL"); v != "" {
		c.VoteAPI.BaseURL = v
	}
}

// Validate enforces the configuration a run cannot start without.
// Missing credentials must abort before any query is made.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	if !c.VoteAPI.UseFake {
		if c.VoteAPI.BaseURL == "" {
			return fmt.Errorf("vote_api.base_url is required")
		}
		if c.VoteAPI.APIKey == "" {
			return fmt.Errorf("vote_api.api_key is required")
		}
	}
	return nil
}
