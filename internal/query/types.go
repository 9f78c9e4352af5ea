package query

import "encoding/json"

// Query 描述一次订单查询。Day 非空时按日历日查询（可触发次日重试），
// 否则使用 From/To 相对或绝对表达式（从不重试）。
type Query struct {
	OrderID  string
	Day      string
	From     string
	To       string
	Timezone string
}

// DayBased 返回该查询是否按日历日执行。
func (q Query) DayBased() bool {
	return q.Day != ""
}

// Result 是单个订单查询的最终结果，执行器返回后不再修改。
type Result struct {
	OrderID string
	Found   bool
	Record  json.RawMessage
	Retried bool
	Err     error
}
