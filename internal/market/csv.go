package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var requiredColumns = []string{"instrument", "datetime", "open", "high", "low", "close", "volume"}

// LoadCSV 从文件读取行情。
func LoadCSV(path string) (*MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("market: 打开行情文件失败: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV 解析带表头的行情 CSV。
// 必需列: instrument,datetime,open,high,low,close,volume；
// 可选列: vwap,factor,suspended,limit_buy,limit_sell。空价格单元格记为 NaN。
func ReadCSV(r io.Reader) (*MemorySource, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("market: 读取表头失败: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("market: 行情文件缺少列 %q: %w", name, ErrMissingField)
		}
	}

	var quotes []Quote
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("market: 第 %d 行解析失败: %w", line, err)
		}
		q, err := parseRecord(cols, record)
		if err != nil {
			return nil, fmt.Errorf("market: 第 %d 行: %w", line, err)
		}
		quotes = append(quotes, q)
	}

	return NewMemorySource(quotes)
}

func parseRecord(cols map[string]int, record []string) (Quote, error) {
	cell := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	ts, err := parseTime(cell("datetime"))
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		Instrument: cell("instrument"),
		Time:       ts,
	}
	fields := []struct {
		name string
		dst  *float64
	}{
		{"open", &q.Open},
		{"high", &q.High},
		{"low", &q.Low},
		{"close", &q.Close},
		{"volume", &q.Volume},
		{"vwap", &q.VWAP},
		{"factor", &q.Factor},
	}
	for _, f := range fields {
		v, err := parseFloat(cell(f.name))
		if err != nil {
			return Quote{}, fmt.Errorf("列 %s: %w", f.name, err)
		}
		*f.dst = v
	}
	if math.IsNaN(q.Volume) {
		q.Volume = 0
	}
	if math.IsNaN(q.VWAP) {
		q.VWAP = q.Close
	}

	if q.Suspended, err = parseBool(cell("suspended")); err != nil {
		return Quote{}, fmt.Errorf("列 suspended: %w", err)
	}
	if q.LimitBuy, err = parseBool(cell("limit_buy")); err != nil {
		return Quote{}, fmt.Errorf("列 limit_buy: %w", err)
	}
	if q.LimitSell, err = parseBool(cell("limit_sell")); err != nil {
		return Quote{}, fmt.Errorf("列 limit_sell: %w", err)
	}
	return q, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", s)
}

func parseFloat(s string) (float64, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y":
		return true, nil
	case "0", "false", "f", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("无法解析布尔值 %q", s)
}
