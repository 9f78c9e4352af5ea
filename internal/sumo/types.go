package sumo

import "strings"

// JobState 表示搜索任务的生命周期状态。
type JobState int

const (
	StateCreated JobState = iota
	StateRunning
	StateDone
	StateCancelled
	StateError
)

// Terminal 返回该状态是否为终态。
func (s JobState) Terminal() bool {
	switch s {
	case StateDone, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

func (s JobState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// parseJobState 将服务端返回的状态字符串映射为 JobState。
// 未知状态按运行中处理，由轮询超时兜底。
func parseJobState(raw string) JobState {
	state := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case state == "NOT STARTED":
		return StateCreated
	case strings.HasPrefix(state, "DONE"):
		return StateDone
	case state == "CANCELLED" || state == "CANCELED":
		return StateCancelled
	case state == "FORCE PAUSED":
		return StateError
	default:
		return StateRunning
	}
}

type searchJobRequest struct {
	Query    string `json:"query"`
	From     string `json:"from"`
	To       string `json:"to"`
	TimeZone string `json:"timeZone"`
}

type searchJobCreated struct {
	ID string `json:"id"`
}

type jobStatus struct {
	State        string `json:"state"`
	MessageCount int    `json:"messageCount"`
}

type messagePage struct {
	Messages []jobMessage `json:"messages"`
}

type jobMessage struct {
	Map map[string]string `json:"map"`
}
