package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"sumoredrive/internal/sumo"
	"sumoredrive/internal/timerange"
)

// Searcher 抽象搜索任务客户端，便于测试注入。
type Searcher interface {
	FetchFirstRecord(ctx context.Context, orderID string, window timerange.Window) (json.RawMessage, error)
}

// Executor 将单个订单查询解析为时间窗口并驱动检索。
// 按天查询在首次无结果时会在次日窗口上恰好再试一次；相对范围查询从不重试。
// 除致命错误（凭证被拒、上下文取消）外，所有失败都收敛到 Result.Err。
type Executor struct {
	searcher Searcher
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor 创建查询执行器。
func NewExecutor(searcher Searcher, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		searcher: searcher,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute 将一个 Query 解析为恰好一个 Result。
// 返回非 nil error 仅发生在致命错误，调用方应终止整个运行。
func (e *Executor) Execute(ctx context.Context, q Query) (Result, error) {
	res := Result{OrderID: q.OrderID}

	if q.DayBased() {
		return e.executeDay(ctx, q, res)
	}
	return e.executeRange(ctx, q, res)
}

func (e *Executor) executeDay(ctx context.Context, q Query, res Result) (Result, error) {
	day, err := timerange.ParseDay(q.Day)
	if err != nil {
		res.Err = err
		return res, nil
	}

	window, err := timerange.DayWindow(day, q.Timezone)
	if err != nil {
		res.Err = err
		return res, nil
	}

	record, err := e.searcher.FetchFirstRecord(ctx, q.OrderID, window)
	if err != nil {
		return e.finish(res, err)
	}
	if record != nil {
		res.Found = true
		res.Record = record
		return res, nil
	}

	// 空结果时在次日窗口上再试恰好一次。
	nextWindow, err := timerange.DayWindow(day.AddDate(0, 0, 1), q.Timezone)
	if err != nil {
		res.Err = err
		return res, nil
	}

	e.logger.Info("当日无结果，尝试次日",
		zap.String("order_id", q.OrderID),
		zap.String("day", q.Day),
	)

	record, err = e.searcher.FetchFirstRecord(ctx, q.OrderID, nextWindow)
	if err != nil {
		return e.finish(res, err)
	}
	if record != nil {
		res.Found = true
		res.Record = record
		res.Retried = true
	}
	return res, nil
}

func (e *Executor) executeRange(ctx context.Context, q Query, res Result) (Result, error) {
	window, err := timerange.ResolveRange(q.From, q.To, e.now())
	if err != nil {
		res.Err = err
		return res, nil
	}

	record, err := e.searcher.FetchFirstRecord(ctx, q.OrderID, window)
	if err != nil {
		return e.finish(res, err)
	}
	if record != nil {
		res.Found = true
		res.Record = record
	}
	return res, nil
}

// finish 把致命错误向上传递，其余错误收敛到结果内。
func (e *Executor) finish(res Result, err error) (Result, error) {
	if sumo.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return res, err
	}
	res.Err = err
	return res, nil
}
