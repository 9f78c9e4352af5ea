package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"sumoredrive/internal/batch"
	"sumoredrive/internal/config"
	"sumoredrive/internal/monitor"
	"sumoredrive/internal/publish"
	"sumoredrive/internal/query"
	"sumoredrive/internal/sumo"
	"sumoredrive/internal/timerange"
)

// ErrNoRecords 表示整个运行没有检索到任何记录，进程应以非零状态退出。
var ErrNoRecords = errors.New("no records found")

// Options 描述一次运行的入口参数，零值字段回落到配置默认值。
type Options struct {
	Input    string // 订单号，或批量模式下的 CSV 路径
	Day      string
	From     string
	To       string
	Timezone string
	Workers  int
	QueueURL string
	Debug    bool
}

type recordPublisher interface {
	Publish(ctx context.Context, orderID string, record json.RawMessage) publish.Outcome
}

// App 聚合核心依赖并驱动一次检索流程。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	audit  *monitor.Service
	stdout io.Writer
	now    func() time.Time

	// 测试注入点；为空时按配置构建真实客户端。
	searcher  query.Searcher
	publisher recordPublisher
}

// New 创建 App 实例。audit 可以为 nil，表示不落审计事件。
func New(cfg *config.Config, logger *zap.Logger, audit *monitor.Service) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		audit:  audit,
		stdout: os.Stdout,
		now:    time.Now,
	}
}

// Run 根据输入形态选择单订单或批量模式并执行。
func (a *App) Run(ctx context.Context, opts Options) error {
	a.applyDefaults(&opts)

	if info, err := os.Stat(opts.Input); err == nil && !info.IsDir() {
		return a.runBatch(ctx, opts)
	}
	return a.runSingle(ctx, opts)
}

func (a *App) applyDefaults(opts *Options) {
	if opts.Day == "" {
		opts.Day = a.cfg.Query.Day
	}
	if opts.From == "" {
		opts.From = a.cfg.Query.From
	}
	if opts.To == "" {
		opts.To = a.cfg.Query.To
	}
	if opts.Timezone == "" {
		opts.Timezone = a.cfg.Query.Timezone
	}
	if opts.Workers <= 0 {
		opts.Workers = a.cfg.Batch.Workers
	}
	if opts.QueueURL == "" {
		opts.QueueURL = a.cfg.SQS.QueueURL
	}
}

func (a *App) runSingle(ctx context.Context, opts Options) error {
	q := query.Query{
		OrderID:  opts.Input,
		Day:      opts.Day,
		From:     opts.From,
		To:       opts.To,
		Timezone: opts.Timezone,
	}

	if opts.Debug {
		return a.debugQuery(q)
	}

	executor, err := a.buildExecutor()
	if err != nil {
		return err
	}
	publisher, err := a.buildPublisher(ctx, opts.QueueURL)
	if err != nil {
		return err
	}

	a.audit.RecordRunStarted(ctx, "single", 1)
	start := a.now()

	res, err := executor.Execute(ctx, q)
	if err != nil {
		return err
	}
	a.audit.RecordQueryCompleted(ctx, res)

	var pubSummary publish.Summary
	if res.Err != nil {
		a.logger.Error("订单查询失败",
			zap.String("order_id", res.OrderID),
			zap.Error(res.Err),
		)
	}
	if res.Found {
		if err := a.printRecord(res.Record); err != nil {
			return err
		}
		if publisher != nil {
			outcome := publisher.Publish(ctx, res.OrderID, res.Record)
			pubSummary.Add(outcome)
			if outcome.Err != nil {
				a.audit.RecordPublishFailed(ctx, res.OrderID, outcome.Err)
			}
		}
	}

	elapsed := a.now().Sub(start)
	a.summarize([]query.Result{res}, pubSummary, publisher != nil, elapsed)

	found := 0
	if res.Found {
		found = 1
	}
	a.audit.RecordRunFinished(ctx, found, 1-found, pubSummary.Published, elapsed)

	if !res.Found {
		return ErrNoRecords
	}
	return nil
}

func (a *App) runBatch(ctx context.Context, opts Options) error {
	rows, err := batch.ReadRows(opts.Input, a.logger)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("CSV 没有有效行（需要 orderID 与 date 两列）")
	}

	queries := make([]query.Query, 0, len(rows))
	for _, row := range rows {
		queries = append(queries, query.Query{
			OrderID:  row.OrderID,
			Day:      row.Day,
			Timezone: opts.Timezone,
		})
	}

	if opts.Debug {
		a.logger.Info("批量调试模式", zap.Int("total_rows", len(queries)))
		return a.debugQuery(queries[0])
	}

	executor, err := a.buildExecutor()
	if err != nil {
		return err
	}
	publisher, err := a.buildPublisher(ctx, opts.QueueURL)
	if err != nil {
		return err
	}

	a.logger.Info("开始批量检索",
		zap.Int("orders", len(queries)),
		zap.Int("workers", opts.Workers),
	)
	a.audit.RecordRunStarted(ctx, "batch", len(queries))
	start := a.now()

	orch := batch.New(executor, opts.Workers, a.logger)
	results, err := orch.Run(ctx, queries)
	if err != nil {
		return err
	}

	var pubSummary publish.Summary
	found := 0
	for _, res := range results {
		a.audit.RecordQueryCompleted(ctx, res)
		if res.Err != nil {
			a.logger.Error("订单查询失败",
				zap.String("order_id", res.OrderID),
				zap.Error(res.Err),
			)
		}
		if !res.Found {
			continue
		}
		found++
		if err := a.printRecord(res.Record); err != nil {
			return err
		}
		if publisher != nil {
			outcome := publisher.Publish(ctx, res.OrderID, res.Record)
			pubSummary.Add(outcome)
			if outcome.Err != nil {
				a.audit.RecordPublishFailed(ctx, res.OrderID, outcome.Err)
			}
		}
	}

	elapsed := a.now().Sub(start)
	a.summarize(results, pubSummary, publisher != nil, elapsed)
	a.audit.RecordRunFinished(ctx, found, len(results)-found, pubSummary.Published, elapsed)

	if found == 0 {
		return ErrNoRecords
	}
	return nil
}

func (a *App) buildExecutor() (*query.Executor, error) {
	searcher := a.searcher
	if searcher == nil {
		if !a.cfg.HasCredentials() {
			return nil, errors.New("缺少检索服务凭证：请设置 SUMO_ACCESS_ID 与 SUMO_ACCESS_KEY")
		}
		client, err := sumo.NewClient(a.cfg.Sumo, a.logger)
		if err != nil {
			return nil, err
		}
		searcher = client
	}
	return query.NewExecutor(searcher, a.logger), nil
}

func (a *App) buildPublisher(ctx context.Context, queueURL string) (recordPublisher, error) {
	if queueURL == "" {
		return nil, nil
	}
	if a.publisher != nil {
		return a.publisher, nil
	}

	client, err := publish.NewSQSClient(ctx, a.cfg.SQS.Region)
	if err != nil {
		return nil, err
	}
	return publish.NewPublisher(client, queueURL, a.logger)
}

// debugQuery 打印将要发送的查询与时间窗口，不执行检索。
func (a *App) debugQuery(q query.Query) error {
	var window timerange.Window
	if q.DayBased() {
		day, err := timerange.ParseDay(q.Day)
		if err != nil {
			return err
		}
		window, err = timerange.DayWindow(day, q.Timezone)
		if err != nil {
			return err
		}
	} else {
		var err error
		window, err = timerange.ResolveRange(q.From, q.To, a.now())
		if err != nil {
			return err
		}
	}

	a.logger.Info("调试模式：仅打印查询，不执行",
		zap.String("order_id", q.OrderID),
		zap.String("query", sumo.BuildQuery(q.OrderID)),
		zap.String("from", window.FromISO()),
		zap.String("to", window.ToISO()),
		zap.String("time_zone", "UTC"),
	)
	return nil
}

// printRecord 将记录以缩进 JSON 的形式写到主输出流。
func (a *App) printRecord(record json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, record, "", "  "); err != nil {
		return fmt.Errorf("格式化记录失败: %w", err)
	}
	buf.WriteByte('\n')

	if _, err := a.stdout.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("输出记录失败: %w", err)
	}
	return nil
}

func (a *App) summarize(results []query.Result, pubSummary publish.Summary, publishing bool, elapsed time.Duration) {
	var notFound []string
	for _, res := range results {
		if !res.Found {
			notFound = append(notFound, res.OrderID)
		}
	}

	if len(notFound) > 0 {
		a.logger.Info("未找到记录的订单", zap.Strings("order_ids", notFound))
	}
	if publishing {
		a.logger.Info("消息投递统计",
			zap.Int("published", pubSummary.Published),
			zap.Strings("failed_order_ids", pubSummary.Failed),
		)
	}
	a.logger.Info("运行结束", zap.Duration("elapsed", elapsed))
}
