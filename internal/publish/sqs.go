package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Client 抽象 SQS 发送端，便于测试注入。
type Client interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Outcome 描述单条记录的投递结果。
type Outcome struct {
	OrderID   string
	Published bool
	Err       error
}

// Summary 累计一次运行内的投递统计。
type Summary struct {
	Published int
	Failed    []string
}

// Add 将一次投递结果并入统计。
func (s *Summary) Add(outcome Outcome) {
	if outcome.Published {
		s.Published++
		return
	}
	s.Failed = append(s.Failed, outcome.OrderID)
}

// Publisher 把查询到的记录逐条投递到 SQS 队列。
// 单条投递失败只记录在该条的 Outcome 里，不影响后续投递。
type Publisher struct {
	client   Client
	queueURL string
	logger   *zap.Logger
}

// NewPublisher 创建消息投递器。
func NewPublisher(client Client, queueURL string, logger *zap.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("publish: client 不能为空")
	}
	if queueURL == "" {
		return nil, errors.New("publish: queue_url 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}, nil
}

// NewSQSClient 基于默认凭证链创建 SQS 客户端。
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}

	return sqs.NewFromConfig(awsCfg), nil
}

// Publish 将一条记录作为消息体投递到队列。
func (p *Publisher) Publish(ctx context.Context, orderID string, record json.RawMessage) Outcome {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(record)),
	})
	if err != nil {
		p.logger.Warn("投递 SQS 消息失败",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return Outcome{OrderID: orderID, Err: fmt.Errorf("投递 SQS 消息失败: %w", err)}
	}

	p.logger.Debug("已投递 SQS 消息", zap.String("order_id", orderID))
	return Outcome{OrderID: orderID, Published: true}
}
