package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Log    LogConfig    `yaml:"log"`
	LLM    LLMConfig    `yaml:"llm"`
	MinIO  MinIOConfig  `yaml:"minio"`
	Chat   ChatConfig   `yaml:"chat"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DBConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
}

// DSN builds the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type LogConfig struct {
	Dir     string `yaml:"dir"`
	Console bool   `yaml:"console"`
}

type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Region       string        `yaml:"region"`
	Timeout      time.Duration `yaml:"timeout"`
	HistoryLimit int           `yaml:"history_limit"`
	PromptFile   string        `yaml:"prompt_file"`
	CLICommand   string        `yaml:"cli_command"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// Enabled reports whether transcripts should be archived to MinIO.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type ChatConfig struct {
	MaxContentLength int `yaml:"max_content_length"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8000", RequestTimeout: 60 * time.Second, ShutdownTimeout: 10 * time.Second},
		DB:     DBConfig{Driver: "postgres", Port: "5432", Path: "./inspo.db"},
		Log:    LogConfig{Dir: "./logs"},
		LLM: LLMConfig{
			Provider:     "ollama",
			Model:        "llama3:8b",
			Timeout:      45 * time.Second,
			HistoryLimit: 20,
			CLICommand:   "claude -p",
		},
		MinIO: MinIOConfig{Bucket: "inspo-transcripts"},
		Chat:  ChatConfig{MaxContentLength: 32000, SubscriberBuffer: 64},
	}
}

// LoadConfig reads .env (optional), then the YAML file named by INSPO_CONFIG (optional),
// then environment variables. Later sources win.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("INSPO_CONFIG")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "ADDR")
	setString(&cfg.DB.Driver, "DB_DRIVER")
	setString(&cfg.DB.Host, "DB_HOST")
	setString(&cfg.DB.Port, "DB_PORT")
	setString(&cfg.DB.User, "DB_USER")
	setString(&cfg.DB.Password, "DB_PASSWORD")
	setString(&cfg.DB.Name, "DB_NAME")
	setString(&cfg.DB.Path, "DB_PATH")
	setString(&cfg.Log.Dir, "LOG_DIR")
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.Region, "LLM_REGION")
	setString(&cfg.LLM.PromptFile, "LLM_PROMPT_FILE")
	setString(&cfg.LLM.CLICommand, "LLM_CLI_COMMAND")
	setString(&cfg.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinIO.Bucket, "MINIO_BUCKET")

	steps := []func() error{
		func() error { return setDuration(&cfg.Server.RequestTimeout, "REQUEST_TIMEOUT") },
		func() error { return setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT") },
		func() error { return setDuration(&cfg.LLM.Timeout, "LLM_TIMEOUT") },
		func() error { return setInt(&cfg.LLM.HistoryLimit, "LLM_HISTORY_LIMIT") },
		func() error { return setInt(&cfg.Chat.MaxContentLength, "CHAT_MAX_CONTENT") },
		func() error { return setInt(&cfg.Chat.SubscriberBuffer, "CHAT_SUBSCRIBER_BUFFER") },
		func() error { return setBool(&cfg.Log.Console, "LOG_CONSOLE") },
		func() error { return setBool(&cfg.MinIO.Secure, "MINIO_SECURE") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	cfg.DB.Driver = strings.ToLower(cfg.DB.Driver)
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "sqlite" {
		return fmt.Errorf("invalid DB_DRIVER value %q: want postgres or sqlite", cfg.DB.Driver)
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("invalid LLM_TIMEOUT value %s: must be positive", cfg.LLM.Timeout)
	}
	return nil
}

func getEnv(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func setString(dst *string, key string) {
	if v, ok := getEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	raw, ok := getEnv(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, key string) error {
	raw, ok := getEnv(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}

// setDuration accepts Go durations ("45s") or bare seconds ("45").
func setDuration(dst *time.Duration, key string) error {
	raw, ok := getEnv(key)
	if !ok {
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}
