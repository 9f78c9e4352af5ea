package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sumoredrive/internal/query"
	"sumoredrive/internal/store"
)

// EventType 标识审计事件类型。
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventQueryCompleted EventType = "query_completed"
	EventPublishFailed  EventType = "publish_failed"
	EventRunFinished    EventType = "run_finished"
)

// Event 表示一条审计事件。
type Event struct {
	Type      EventType
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Service 负责把运行审计事件落到本地库。纯观测用途：写入失败只记日志，
// 任何事件都不会被读回用于影响后续行为。nil Service 上的所有方法均为空操作。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化审计服务，创建所需表结构。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     st.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) {
	if s == nil {
		return
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		s.logger.Warn("monitor: 序列化事件失败", zap.Error(err))
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Warn("monitor: 写入事件失败", zap.Error(err))
	}
}

// RecordRunStarted 记录一次运行的开始。
func (s *Service) RecordRunStarted(ctx context.Context, mode string, total int) {
	s.Record(ctx, Event{
		Type: EventRunStarted,
		Payload: map[string]interface{}{
			"mode":  mode,
			"total": total,
		},
	})
}

// RecordQueryCompleted 记录单个订单查询的结果。
func (s *Service) RecordQueryCompleted(ctx context.Context, res query.Result) {
	payload := map[string]interface{}{
		"order_id": res.OrderID,
		"found":    res.Found,
		"retried":  res.Retried,
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	s.Record(ctx, Event{Type: EventQueryCompleted, Payload: payload})
}

// RecordPublishFailed 记录一次失败的消息投递。
func (s *Service) RecordPublishFailed(ctx context.Context, orderID string, err error) {
	payload := map[string]interface{}{
		"order_id": orderID,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.Record(ctx, Event{Type: EventPublishFailed, Payload: payload})
}

// RecordRunFinished 记录一次运行的汇总。
func (s *Service) RecordRunFinished(ctx context.Context, found, notFound, published int, elapsed time.Duration) {
	s.Record(ctx, Event{
		Type: EventRunFinished,
		Payload: map[string]interface{}{
			"found":      found,
			"not_found":  notFound,
			"published":  published,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}
