package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了工具运行所需的全部配置项。
type Config struct {
	Sumo    SumoConfig    `mapstructure:"sumo"`
	Query   QueryConfig   `mapstructure:"query"`
	Batch   BatchConfig   `mapstructure:"batch"`
	SQS     SQSConfig     `mapstructure:"sqs"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SumoConfig 描述日志检索服务的连接信息。
type SumoConfig struct {
	AccessID     string        `mapstructure:"access_id"`
	AccessKey    string        `mapstructure:"access_key"`
	APIURL       string        `mapstructure:"api_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// QueryConfig 控制默认的查询时间范围。
type QueryConfig struct {
	Day      string `mapstructure:"day"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
	Timezone string `mapstructure:"timezone"`
}

// BatchConfig 控制批量模式的并发行为。
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// SQSConfig 描述可选的消息队列投递目标。
type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
}

// AuditConfig 控制可选的本地运行审计库。
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RetryConfig 统一控制瞬时错误重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。凭证在执行查询前单独检查，
// 以便 debug 模式可以在无凭证时运行。
func (c *Config) Validate() error {
	var err error

	if c.Sumo.APIURL == "" {
		err = multierr.Append(err, errors.New("sumo.api_url 不能为空"))
	}
	if c.Sumo.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("sumo.poll_interval 必须大于0"))
	}
	if c.Sumo.JobTimeout <= 0 {
		err = multierr.Append(err, errors.New("sumo.job_timeout 必须大于0"))
	}
	if c.Sumo.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("sumo.retry.max_attempts 必须大于0"))
	}
	if c.Sumo.Retry.MinDelay <= 0 || c.Sumo.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("sumo.retry.delay 必须为正"))
	}
	if c.Sumo.Retry.MinDelay > c.Sumo.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("sumo.retry.min_delay 不能大于 max_delay"))
	}
	if c.Query.Timezone == "" {
		err = multierr.Append(err, errors.New("query.timezone 不能为空"))
	}
	if c.Batch.Workers <= 0 {
		err = multierr.Append(err, errors.New("batch.workers 必须大于0"))
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		err = multierr.Append(err, errors.New("audit.path 在启用审计时不能为空"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// HasCredentials 返回是否已配置检索服务凭证。
func (c *Config) HasCredentials() bool {
	return c.Sumo.AccessID != "" && c.Sumo.AccessKey != ""
}
