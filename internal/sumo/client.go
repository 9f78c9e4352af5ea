package sumo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sumoredrive/internal/config"
	"sumoredrive/internal/timerange"
)

// queryTemplate 是固定的 charge-request 查询文本，%s 处替换为订单号。
// replace() 中的一个反斜杠在检索服务里要写成 \\\\（即此处的四个反斜杠）。
const queryTemplate = `_dataTier=infrequent _index=nytimes_spg_shared _sourceCategory=nytimes-spg-pug-app-prd "PUGRB: Received charge request" "%s" | parse regex "request (?<json>.*), approximate" | replace(json, "\\\\", "") as json`

const searchJobsPath = "/api/v1/search/jobs"

// BuildQuery 返回插入订单号后的完整查询文本。
func BuildQuery(orderID string) string {
	return fmt.Sprintf(queryTemplate, orderID)
}

// Client 驱动检索服务的异步搜索任务生命周期：提交、轮询、取首条结果。
// 实例无跨调用状态，可在多个 worker 间安全共享。
type Client struct {
	cfg        config.SumoConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	authHeader string
}

// NewClient 构造搜索任务客户端。
func NewClient(cfg config.SumoConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("sumo api_url 不能为空")
	}
	if cfg.AccessID == "" || cfg.AccessKey == "" {
		return nil, errors.New("sumo 访问凭证不能为空")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	auth := base64.StdEncoding.EncodeToString([]byte(cfg.AccessID + ":" + cfg.AccessKey))

	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		authHeader: "Basic " + auth,
	}, nil
}

// FetchFirstRecord 对给定窗口执行一次 charge-request 查询，返回首条记录。
// 无记录时返回 (nil, nil)；记录以不透明 JSON 文档原样传出，不做解构。
func (c *Client) FetchFirstRecord(ctx context.Context, orderID string, window timerange.Window) (json.RawMessage, error) {
	jobID, err := c.submit(ctx, orderID, window)
	if err != nil {
		return nil, err
	}
	defer c.deleteJob(jobID)

	count, err := c.pollUntilReady(ctx, orderID, jobID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	return c.fetchFirst(ctx, jobID)
}

func (c *Client) submit(ctx context.Context, orderID string, window timerange.Window) (string, error) {
	payload := searchJobRequest{
		Query:    BuildQuery(orderID),
		From:     window.FromISO(),
		To:       window.ToISO(),
		TimeZone: "UTC",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化搜索任务请求失败: %w", err)
	}

	var created searchJobCreated
	err = c.callWithRetry(ctx, "create_search_job", func() error {
		return c.do(ctx, http.MethodPost, searchJobsPath, body, http.StatusAccepted, &created)
	})
	if err != nil {
		return "", fmt.Errorf("创建搜索任务失败: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("创建搜索任务失败: 服务端未返回任务ID")
	}

	c.logger.Debug("搜索任务已创建",
		zap.String("order_id", orderID),
		zap.String("job_id", created.ID),
		zap.String("from", payload.From),
		zap.String("to", payload.To),
	)

	return created.ID, nil
}

// pollUntilReady 轮询任务状态直至终态或出现首条记录，返回记录数。
// 只取首条结果，一旦 messageCount >= 1 即可提前结束，不必等待任务收尾。
func (c *Client) pollUntilReady(ctx context.Context, orderID, jobID string) (int, error) {
	deadline := time.Now().Add(c.cfg.JobTimeout)
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}

		var status jobStatus
		err := c.callWithRetry(ctx, "get_job_status", func() error {
			return c.do(ctx, http.MethodGet, searchJobsPath+"/"+jobID, nil, http.StatusOK, &status)
		})
		if err != nil {
			return 0, fmt.Errorf("查询任务状态失败: %w", err)
		}

		state := parseJobState(status.State)
		switch {
		case state == StateDone || status.MessageCount >= 1:
			return status.MessageCount, nil
		case state == StateCancelled || state == StateError:
			return 0, fmt.Errorf("%w: 任务 %s 状态 %s", ErrJobFailed, jobID, status.State)
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: 任务 %s 超过 %s", ErrJobTimeout, jobID, c.cfg.JobTimeout)
		}

		c.logger.Debug("搜索任务进行中",
			zap.String("order_id", orderID),
			zap.String("job_id", jobID),
			zap.String("state", state.String()),
			zap.Int("message_count", status.MessageCount),
		)

		timer.Reset(c.cfg.PollInterval)
	}
}

func (c *Client) fetchFirst(ctx context.Context, jobID string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("offset", "0")
	params.Set("limit", "1")

	var page messagePage
	err := c.callWithRetry(ctx, "get_job_messages", func() error {
		return c.do(ctx, http.MethodGet, searchJobsPath+"/"+jobID+"/messages?"+params.Encode(), nil, http.StatusOK, &page)
	})
	if err != nil {
		return nil, fmt.Errorf("获取任务结果失败: %w", err)
	}
	if len(page.Messages) == 0 {
		return nil, nil
	}

	raw, ok := page.Messages[0].Map["json"]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errors.New("任务结果缺少 json 字段")
	}

	return decodeRecord(raw)
}

// deleteJob 在任务完成后尽力清理服务端任务，失败只记日志。
func (c *Client) deleteJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.do(ctx, http.MethodDelete, searchJobsPath+"/"+jobID, nil, http.StatusOK, nil); err != nil {
		c.logger.Debug("清理搜索任务失败", zap.String("job_id", jobID), zap.Error(err))
	}
}

// decodeRecord 将消息中的 json 字段还原为原始 JSON 文档。
// 字段可能是 JSON 本体、双重编码的 JSON 字符串，或带残留转义的文本。
func decodeRecord(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)

	if json.Valid([]byte(trimmed)) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err == nil && json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
		return json.RawMessage(trimmed), nil
	}

	unescaped := strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(trimmed)
	if json.Valid([]byte(unescaped)) {
		return json.RawMessage(unescaped), nil
	}

	return nil, fmt.Errorf("任务结果不是合法 JSON: %s", snippet(trimmed))
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: HTTP %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != wantStatus {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &httpStatusError{status: resp.StatusCode, body: snippet(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("检索服务调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !classifyRetryable(err) || attempt >= c.cfg.Retry.MaxAttempts {
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("检索服务调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// classifyRetryable 判断错误是否为瞬时错误。凭证错误与普通 4xx 不重试。
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func snippet(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (+" + strconv.Itoa(len(s)-max) + " bytes)"
}
