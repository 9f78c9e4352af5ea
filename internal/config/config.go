package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "sumoredrive"

// Load 读取可选的配置文件并结合环境变量返回 Config。
// path 为空时仅使用环境变量与默认值，以兼容纯环境变量驱动的运行方式。
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	bindLegacyEnv(v)
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
			}
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindLegacyEnv 绑定历史沿用的环境变量名，保持与现有运维脚本兼容。
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("sumo.access_id", "SUMO_ACCESS_ID")
	_ = v.BindEnv("sumo.access_key", "SUMO_ACCESS_KEY")
	_ = v.BindEnv("sumo.api_url", "SUMO_API_URL")
	_ = v.BindEnv("query.day", "SUMO_DAY")
	_ = v.BindEnv("query.from", "SUMO_FROM")
	_ = v.BindEnv("query.to", "SUMO_TO")
	_ = v.BindEnv("sqs.queue_url", "SQS_QUEUE_URL")
	_ = v.BindEnv("sqs.region", "AWS_REGION")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sumo.api_url", "https://api.sumologic.com")
	v.SetDefault("sumo.poll_interval", "2s")
	v.SetDefault("sumo.job_timeout", "2m")
	v.SetDefault("sumo.retry.max_attempts", 3)
	v.SetDefault("sumo.retry.min_delay", "500ms")
	v.SetDefault("sumo.retry.max_delay", "5s")

	v.SetDefault("query.from", "-7d")
	v.SetDefault("query.to", "now")
	v.SetDefault("query.timezone", "UTC")

	v.SetDefault("batch.workers", 4)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.path", "data/sumoredrive.db")

	// stdout 保留给检索到的记录本身，日志一律走 stderr。
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stderr"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
