/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "3000"

	DEFAULT_QUEUE_NAME          = "order-execution"
	DEFAULT_CONCURRENCY         = 5
	DEFAULT_MAX_ATTEMPTS        = 3
	DEFAULT_BACKOFF_BASE_MS     = 1000
	DEFAULT_BACKOFF_CAP_MS      = 30000
	DEFAULT_MONITORING_PORT     = "5004"
	DEFAULT_RECOVERY_THRESHOLD  = 600
	DEFAULT_QUOTE_LATENCY_MS    = 200
	DEFAULT_SETTLEMENT_DELAY_MS = 2000
	DEFAULT_CACHE_TTL_SEC       = 300

	FailurePolicyRetain = "retain"
	FailurePolicyFail   = "fail"
)

var ConfigStore atomic.Value

var ErrSharedStoreRequired = errors.New("a data source dns is required when redis is configured")

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SWAPFLOW_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SWAPFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SWAPFLOW_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SWAPFLOW_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SWAPFLOW_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SWAPFLOW_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SWAPFLOW_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SWAPFLOW_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SWAPFLOW_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	Name                 string `json:"name" envconfig:"SWAPFLOW_QUEUE_NAME"`
	Concurrency          int    `json:"concurrency" envconfig:"SWAPFLOW_QUEUE_CONCURRENCY"`
	MaxAttempts          int    `json:"max_attempts" envconfig:"SWAPFLOW_QUEUE_MAX_ATTEMPTS"`
	BackoffBaseMs        int    `json:"backoff_base_ms" envconfig:"SWAPFLOW_QUEUE_BACKOFF_BASE_MS"`
	BackoffCapMs         int    `json:"backoff_cap_ms" envconfig:"SWAPFLOW_QUEUE_BACKOFF_CAP_MS"`
	MonitoringPort       string `json:"monitoring_port" envconfig:"SWAPFLOW_QUEUE_MONITORING_PORT"`
	RecoveryThresholdSec int    `json:"recovery_threshold_sec" envconfig:"SWAPFLOW_QUEUE_RECOVERY_THRESHOLD_SEC"`
}

type PipelineConfig struct {
	// FailurePolicy decides what happens to an order whose job is
	// dead-lettered: "retain" leaves it at its last stage, "fail" moves it
	// to failed.
	FailurePolicy     string `json:"failure_policy" envconfig:"SWAPFLOW_PIPELINE_FAILURE_POLICY"`
	QuoteLatencyMs    int    `json:"quote_latency_ms" envconfig:"SWAPFLOW_PIPELINE_QUOTE_LATENCY_MS"`
	SettlementDelayMs int    `json:"settlement_delay_ms" envconfig:"SWAPFLOW_PIPELINE_SETTLEMENT_DELAY_MS"`
	StageTimeoutMs    int    `json:"stage_timeout_ms" envconfig:"SWAPFLOW_PIPELINE_STAGE_TIMEOUT_MS"`
}

type VenueConfig struct {
	Name     string  `json:"name"`
	Fee      float64 `json:"fee"`
	Variance float64 `json:"variance"`
}

type RouterConfig struct {
	// Venues are listed in tie-break priority order.
	Venues []VenueConfig `json:"venues" ignored:"true"`
}

type CacheConfig struct {
	TTLSec      int `json:"ttl_sec" envconfig:"SWAPFLOW_CACHE_TTL_SEC"`
	LocalTTLSec int `json:"local_ttl_sec" envconfig:"SWAPFLOW_CACHE_LOCAL_TTL_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SWAPFLOW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SWAPFLOW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SWAPFLOW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"SWAPFLOW_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName   string           `json:"project_name" envconfig:"SWAPFLOW_PROJECT_NAME"`
	EnableMetrics bool             `json:"enable_metrics" envconfig:"SWAPFLOW_ENABLE_METRICS"`
	EnableTracing bool             `json:"enable_tracing" envconfig:"SWAPFLOW_ENABLE_TRACING"`
	Server        ServerConfig     `json:"server"`
	DataSource    DataSourceConfig `json:"data_source"`
	Redis         RedisConfig      `json:"redis"`
	Queue         QueueConfig      `json:"queue"`
	Pipeline      PipelineConfig   `json:"pipeline"`
	Router        RouterConfig     `json:"router"`
	Cache         CacheConfig      `json:"cache"`
	Notification  Notification     `json:"notification"`
	RateLimit     RateLimitConfig  `json:"rate_limit"`
}

// DefaultVenues is the venue set used when none is configured.
func DefaultVenues() []VenueConfig {
	return []VenueConfig{
		{Name: "raydium", Fee: 0.003, Variance: 0.02},
		{Name: "meteora", Fee: 0.002, Variance: 0.03},
	}
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("swapflow", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called swapflow.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Swapflow"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.DataSource.Dns == "" {
		log.Println("Warning: Data source DNS is empty. Orders will be kept in memory.")
	}
	if cnf.Redis.Dns == "" {
		log.Println("Warning: Redis DNS is empty. Jobs and updates will stay in process.")
	} else if cnf.DataSource.Dns == "" {
		// workers run in their own process and would never see an in-memory order
		return ErrSharedStoreRequired
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if err := cnf.Queue.addDefaults(); err != nil {
		return err
	}
	if err := cnf.Pipeline.addDefaults(); err != nil {
		return err
	}

	if len(cnf.Router.Venues) == 0 {
		cnf.Router.Venues = DefaultVenues()
	}
	seen := map[string]bool{}
	for _, v := range cnf.Router.Venues {
		if v.Name == "" {
			return errors.New("router venue name is required")
		}
		if seen[v.Name] {
			return fmt.Errorf("router venue %q is listed twice", v.Name)
		}
		if v.Fee < 0 || v.Fee >= 1 || v.Variance < 0 || v.Variance >= 1 {
			return fmt.Errorf("router venue %q: fee and variance must be in [0, 1)", v.Name)
		}
		seen[v.Name] = true
	}

	if cnf.Cache.TTLSec <= 0 {
		cnf.Cache.TTLSec = DEFAULT_CACHE_TTL_SEC
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) addDefaults() error {
	if q.Name == "" {
		q.Name = DEFAULT_QUEUE_NAME
	}
	if q.Concurrency <= 0 {
		q.Concurrency = DEFAULT_CONCURRENCY
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = DEFAULT_MAX_ATTEMPTS
	}
	if q.BackoffBaseMs <= 0 {
		q.BackoffBaseMs = DEFAULT_BACKOFF_BASE_MS
	}
	if q.BackoffCapMs <= 0 {
		q.BackoffCapMs = DEFAULT_BACKOFF_CAP_MS
	}
	if q.BackoffCapMs < q.BackoffBaseMs {
		return fmt.Errorf("queue backoff cap (%dms) is below the base delay (%dms)", q.BackoffCapMs, q.BackoffBaseMs)
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if q.RecoveryThresholdSec <= 0 {
		q.RecoveryThresholdSec = DEFAULT_RECOVERY_THRESHOLD
	}
	return nil
}

func (p *PipelineConfig) addDefaults() error {
	switch p.FailurePolicy {
	case "":
		p.FailurePolicy = FailurePolicyRetain
	case FailurePolicyRetain, FailurePolicyFail:
	default:
		return fmt.Errorf("unknown pipeline failure policy %q", p.FailurePolicy)
	}
	if p.QuoteLatencyMs <= 0 {
		p.QuoteLatencyMs = DEFAULT_QUOTE_LATENCY_MS
	}
	if p.SettlementDelayMs <= 0 {
		p.SettlementDelayMs = DEFAULT_SETTLEMENT_DELAY_MS
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
