package batch

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sumoredrive/internal/query"
)

// Runner 抽象单订单查询执行器，便于测试注入。
type Runner interface {
	Execute(ctx context.Context, q query.Query) (query.Result, error)
}

// Orchestrator 以固定大小的工作池并发执行一批订单查询。
// 每行输入在分发前就绑定了输出槽位（即其输入下标），各 worker 只写自己的
// 槽位，结果顺序与输入顺序一致而与完成顺序无关，聚合时无需加锁。
type Orchestrator struct {
	runner  Runner
	workers int
	logger  *zap.Logger
}

// New 创建批量编排器。workers 小于1时按1处理。
func New(runner Runner, workers int, logger *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Run 执行全部查询并按输入顺序返回结果。任意一个查询出现致命错误时，
// 组上下文被取消，尚未分发的查询不再开始，整个运行以该错误失败。
func (o *Orchestrator) Run(ctx context.Context, queries []query.Query) ([]query.Result, error) {
	results := make([]query.Result, len(queries))
	total := len(queries)

	var completed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.workers)

	for i, q := range queries {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			res, err := o.runner.Execute(groupCtx, q)
			if err != nil {
				o.logger.Error("订单查询出现致命错误",
					zap.String("order_id", q.OrderID),
					zap.Error(err),
				)
				return err
			}

			results[i] = res

			done := completed.Add(1)
			o.logger.Info("订单查询完成",
				zap.Int64("completed", done),
				zap.Int("total", total),
				zap.String("order_id", q.OrderID),
				zap.Bool("found", res.Found),
				zap.Bool("retried", res.Retried),
			)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
