package sumo

import "errors"

var (
	// ErrAuth 表示检索服务拒绝了访问凭证，整个运行应立即终止。
	ErrAuth = errors.New("search service rejected credentials")
	// ErrJobFailed 表示搜索任务在服务端进入了取消或失败状态。
	ErrJobFailed = errors.New("search job failed")
	// ErrJobTimeout 表示轮询超出了单个任务的超时预算。
	ErrJobTimeout = errors.New("search job polling timed out")
)

// IsFatal 判断错误是否应终止整个运行而不仅是当前查询。
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
