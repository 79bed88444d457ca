// Package config 加载服务与界面的配置
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config 全局配置
type Config struct {
	HTTP  HTTPConfig  `yaml:"http"`
	Model ModelConfig `yaml:"model"`
	Batch BatchConfig `yaml:"batch"`
	Log   LogConfig   `yaml:"log"`
	UI    UIConfig    `yaml:"ui"`
}

// HTTPConfig 预测服务监听配置
type HTTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ModelConfig 模型配置
type ModelConfig struct {
	Dir string `yaml:"dir"`
}

// BatchConfig 批量文件解析配置
type BatchConfig struct {
	Separator string `yaml:"separator"`
	Encoding  string `yaml:"encoding"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// UIConfig 表单界面配置
type UIConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	BackendURL    string        `yaml:"backend_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RecentResults int           `yaml:"recent_results"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			Timeout:        30 * time.Second,
			MaxUploadBytes: 32 << 20,
			AllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{Dir: "../models/best"},
		Batch: BatchConfig{Separator: ";", Encoding: "utf-8"},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		UI: UIConfig{
			Host:          "0.0.0.0",
			Port:          8501,
			BackendURL:    "http://0.0.0.0:8000",
			Timeout:       30 * time.Second,
			RecentResults: 20,
		},
	}
}

// Path 配置文件路径，CONFIG_PATH 优先
func Path() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

// LoadDotEnv 加载工作目录下的 .env 文件（不存在时忽略）
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load 读取配置文件并应用环境变量，文件不存在时使用默认值
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if dir := os.Getenv("MODEL_DIR"); dir != "" {
		c.Model.Dir = dir
	}
	if url := os.Getenv("BACKEND_URL"); url != "" {
		c.UI.BackendURL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.HTTP.Port = p
	}
	if port := os.Getenv("UI_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid UI_PORT %q: %w", port, err)
		}
		c.UI.Port = p
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.UI.Port <= 0 || c.UI.Port > 65535 {
		return fmt.Errorf("ui.port %d out of range", c.UI.Port)
	}
	if c.Model.Dir == "" {
		return errors.New("model.dir is required")
	}
	if len([]rune(c.Batch.Separator)) != 1 {
		return fmt.Errorf("batch.separator must be a single character, got %q", c.Batch.Separator)
	}
	if c.UI.BackendURL == "" {
		return errors.New("ui.backend_url is required")
	}
	return nil
}

// SeparatorRune 批量文件分隔符
func (c BatchConfig) SeparatorRune() rune {
	for _, r := range c.Separator {
		return r
	}
	return ';'
}

// Addr 预测服务监听地址
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr 界面监听地址
func (c UIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
