package cmd

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/shortlister/internal/eligibility"
)

const (
	app = "shortlister"
)

type Config struct {
	Store       StoreConfig          `mapstructure:"store"`
	AI          AIConfig             `mapstructure:"ai"`
	RateLimit   RateLimitConfig      `mapstructure:"rate-limit"`
	Eligibility eligibility.Criteria `mapstructure:"eligibility"`
	Enrichment  EnrichmentConfig     `mapstructure:"enrichment"`
	Materialize MaterializeConfig    `mapstructure:"materialize"`
	Batch       BatchConfig          `mapstructure:"batch"`
}

type StoreConfig struct {
	// Backend is one of airtable, sqlite, postgres or memory.
	Backend  string         `mapstructure:"backend"`
	Airtable AirtableConfig `mapstructure:"airtable"`
	SQL      SQLConfig      `mapstructure:"sql"`
}

type AirtableConfig struct {
	BaseURL           string            `mapstructure:"base-url"`
	BaseID            string            `mapstructure:"base-id"`
	Token             string            `mapstructure:"token"`
	TokenFile         string            `mapstructure:"token-file"`
	Tables            map[string]string `mapstructure:"tables"`
	RequestsPerSecond float64           `mapstructure:"requests-per-second"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	MaxRetries        int               `mapstructure:"max-retries"`
}

type SQLConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max-open-conns"`
	PingTimeout  time.Duration `mapstructure:"ping-timeout"`
}

type AIConfig struct {
	Provider   string           `mapstructure:"provider"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
}

type OpenRouterConfig struct {
	APIKey     string        `mapstructure:"api-key"`
	APIKeyFile string        `mapstructure:"api-key-file"`
	BaseURL    string        `mapstructure:"base-url"`
	Model      string        `mapstructure:"model"`
	MaxTokens  int           `mapstructure:"max-tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests-per-minute"`
	Burst             int `mapstructure:"burst"`
	// RedisURL shares the limit between processes when set.
	RedisURL string `mapstructure:"redis-url"`
	Key      string `mapstructure:"key"`
}

type EnrichmentConfig struct {
	SummaryWords int           `mapstructure:"summary-words"`
	MaxFollowUps int           `mapstructure:"max-follow-ups"`
	MaxAttempts  int           `mapstructure:"max-attempts"`
	BaseDelay    time.Duration `mapstructure:"base-delay"`
	MaxDelay     time.Duration `mapstructure:"max-delay"`
}

type MaterializeConfig struct {
	Strategy string `mapstructure:"strategy"`
}

type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "shortlister keeps applicant snapshots in sync, shortlists eligible applicants and enriches them with AI assessments",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range map[string]string{
		"store.backend":          "SHORTLISTER_STORE",
		"store.airtable.token":   "AIRTABLE_TOKEN",
		"store.airtable.base-id": "AIRTABLE_BASE_ID",
		"store.sql.dsn":          "SHORTLISTER_DSN",
		"ai.provider":            "SHORTLISTER_AI_PROVIDER",
		"ai.gemini.api-key":      "GEMINI_API_KEY",
		"ai.openrouter.api-key":  "OPENROUTER_API_KEY",
		"rate-limit.redis-url":   "REDIS_URL",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is shortlister.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().StringP("applicant-id", "a", "", "process a single applicant instead of the whole collection")
	rootCmd.PersistentFlags().IntP("concurrency", "c", 0, "number of applicants processed at once (default from batch.concurrency)")
	rootCmd.PersistentFlags().String("store", "", "record store backend: airtable, sqlite, postgres or memory")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("batch.concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
}

func setDefaults() {
	viper.SetDefault("store.backend", "airtable")
	viper.SetDefault("store.sql.dsn", "file:shortlister.db")
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("rate-limit.requests-per-minute", 15)
	viper.SetDefault("rate-limit.burst", 1)
	viper.SetDefault("rate-limit.key", app+":provider-calls")
	viper.SetDefault("enrichment.summary-words", 75)
	viper.SetDefault("enrichment.max-follow-ups", 3)
	viper.SetDefault("enrichment.max-attempts", 3)
	viper.SetDefault("enrichment.base-delay", time.Second)
	viper.SetDefault("enrichment.max-delay", 30*time.Second)
	viper.SetDefault("materialize.strategy", "replace")
	viper.SetDefault("batch.concurrency", 1)
}

func initConfig() {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error. A missing default
	// config is fine, everything can come from flags and environment.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
