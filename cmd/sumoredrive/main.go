package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sumoredrive/internal/app"
	"sumoredrive/internal/config"
	"sumoredrive/internal/log"
	"sumoredrive/internal/monitor"
	"sumoredrive/internal/store"
)

func main() {
	var (
		configPath string
		day        string
		from       string
		to         string
		timezone   string
		workers    int
		queueURL   string
		debug      bool
	)

	pflag.StringVar(&configPath, "config", "", "配置文件路径，默认仅使用环境变量与默认值")
	pflag.StringVar(&day, "day", "", "按天查询，格式 YYYY-MM-DD（仅限单订单模式）")
	pflag.StringVar(&from, "from", "", "查询起点（ISO 8601 或相对表达式如 -7d），设置 --day 时忽略")
	pflag.StringVar(&to, "to", "", "查询终点（默认 now），设置 --day 时忽略")
	pflag.StringVar(&timezone, "timezone", "", "日历日计算使用的时区（默认 UTC）")
	pflag.IntVar(&workers, "workers", 0, "批量模式的最大并发数（默认 4）")
	pflag.StringVar(&queueURL, "sqs-queue-url", "", "将每条记录投递到该 SQS 队列")
	pflag.BoolVar(&debug, "debug", false, "仅打印查询与时间窗口，不执行")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "用法: sumoredrive [flags] <订单号|CSV路径>")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	var audit *monitor.Service
	if cfg.Audit.Enabled {
		st, err := store.Open(cfg.Audit)
		if err != nil {
			logger.Error("初始化审计库失败", zap.Error(err))
			os.Exit(1)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Warn("关闭审计库失败", zap.Error(closeErr))
			}
		}()

		audit, err = monitor.NewService(st, logger)
		if err != nil {
			logger.Error("初始化审计服务失败", zap.Error(err))
			os.Exit(1)
		}
	}

	application := app.New(cfg, logger, audit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		Input:    pflag.Arg(0),
		Day:      day,
		From:     from,
		To:       to,
		Timezone: timezone,
		Workers:  workers,
		QueueURL: queueURL,
		Debug:    debug,
	}

	if err := application.Run(ctx, opts); err != nil {
		if errors.Is(err, app.ErrNoRecords) {
			os.Exit(1)
		}
		logger.Error("运行失败", zap.Error(err))
		os.Exit(1)
	}
}
