package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"sumoredrive/internal/timerange"
)

// Row 表示 CSV 输入中的一行有效订单记录。
type Row struct {
	OrderID string
	Day     string
}

// ReadRows 读取两列（orderID, date）的 CSV 文件。表头行自动跳过，
// 缺列或日期非法的行记一条警告后跳过，不影响其余行。
func ReadRows(path string, logger *zap.Logger) ([]Row, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开输入文件失败: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []Row
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 CSV 失败: %w", err)
		}
		line++

		if len(record) < 2 {
			logger.Warn("跳过缺列的行", zap.Int("line", line), zap.Strings("row", record))
			continue
		}

		orderID := strings.TrimSpace(record[0])
		day := strings.TrimSpace(record[1])
		if orderID == "" || day == "" {
			logger.Warn("跳过空字段的行", zap.Int("line", line), zap.Strings("row", record))
			continue
		}

		if line == 1 && isHeader(orderID, day) {
			continue
		}

		if _, err := time.Parse(timerange.DayLayout, day); err != nil {
			logger.Warn("跳过日期非法的行",
				zap.Int("line", line),
				zap.String("order_id", orderID),
				zap.String("date", day),
			)
			continue
		}

		rows = append(rows, Row{OrderID: orderID, Day: day})
	}

	return rows, nil
}

func isHeader(orderID, day string) bool {
	switch strings.ToLower(orderID) {
	case "orderid", "order_id", "order id":
		return true
	}
	return strings.EqualFold(day, "date")
}
