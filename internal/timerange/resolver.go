package timerange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DayLayout 是按天查询使用的日期格式。
	DayLayout = "2006-01-02"
	// ISOLayout 是检索服务接受的时间戳格式（ISO 8601，无时区后缀，按 UTC 解释）。
	ISOLayout = "2006-01-02T15:04:05"
)

var (
	// ErrInvalidExpression 表示时间表达式不符合语法。
	ErrInvalidExpression = errors.New("invalid time expression")
	// ErrInvalidWindow 表示解析后的窗口起点不早于终点。
	ErrInvalidWindow = errors.New("time window from must be before to")
)

var relativePattern = regexp.MustCompile(`^-(\d+)([dhms])$`)

// Window 表示一段解析完成的 UTC 查询时间窗口。构造后不可变，恒有 From < To。
type Window struct {
	From time.Time
	To   time.Time
}

// FromISO 返回窗口起点的 ISO 8601 UTC 表示。
func (w Window) FromISO() string {
	return w.From.UTC().Format(ISOLayout)
}

// ToISO 返回窗口终点的 ISO 8601 UTC 表示。
func (w Window) ToISO() string {
	return w.To.UTC().Format(ISOLayout)
}

// ParseDay 解析 YYYY-MM-DD 格式的日期。
func ParseDay(value string) (time.Time, error) {
	day, err := time.Parse(DayLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: 日期 %q 不符合 %s", ErrInvalidExpression, value, DayLayout)
	}
	return day, nil
}

// DayWindow 将一个日历日展开为该时区下 [当日 00:00, 次日 00:00) 的 UTC 窗口。
func DayWindow(day time.Time, tz string) (Window, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return Window{}, err
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)

	return Window{From: from.UTC(), To: to.UTC()}, nil
}

// ResolveRange 解析 from/to 表达式为 UTC 窗口。表达式可以是相对偏移
// （-N{d|h|m|s}）、now，或绝对 ISO 8601 时间戳。相对偏移始终基于传入的
// 当前时刻计算，不受时区参数影响。
func ResolveRange(from, to string, now time.Time) (Window, error) {
	if strings.TrimSpace(to) == "" {
		to = "now"
	}

	fromTime, err := resolveExpression(from, now)
	if err != nil {
		return Window{}, err
	}
	toTime, err := resolveExpression(to, now)
	if err != nil {
		return Window{}, err
	}

	if !fromTime.Before(toTime) {
		return Window{}, fmt.Errorf("%w: %s >= %s", ErrInvalidWindow,
			fromTime.Format(ISOLayout), toTime.Format(ISOLayout))
	}

	return Window{From: fromTime, To: toTime}, nil
}

func resolveExpression(expr string, now time.Time) (time.Time, error) {
	trimmed := strings.ToLower(strings.TrimSpace(expr))
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: 表达式为空", ErrInvalidExpression)
	}

	if trimmed == "now" {
		return now.UTC(), nil
	}

	if m := relativePattern.FindStringSubmatch(trimmed); m != nil {
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
		}
		var delta time.Duration
		switch m[2] {
		case "d":
			delta = time.Duration(amount) * 24 * time.Hour
		case "h":
			delta = time.Duration(amount) * time.Hour
		case "m":
			delta = time.Duration(amount) * time.Minute
		case "s":
			delta = time.Duration(amount) * time.Second
		}
		return now.UTC().Add(-delta), nil
	}

	if ts, err := time.Parse(ISOLayout, strings.TrimSpace(expr)); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(expr)); err == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: 未知时区 %q", ErrInvalidExpression, tz)
	}
	return loc, nil
}
