package candles

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述一个K线周期 (内部 duration + 币安 interval)
type Timeframe struct {
	Key      string
	Duration time.Duration
	Interval string
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, Interval: "1m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, Interval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, Interval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, Interval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, Interval: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, Interval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, Interval: "1d"},
}

// OANDA 风格的周期名
var granularityAliases = map[string]string{
	"m1":  "1m",
	"m5":  "5m",
	"m15": "15m",
	"m30": "30m",
	"h1":  "1h",
	"h4":  "4h",
	"d":   "1d",
}

// ParseTimeframe 返回标准化周期定义，同时接受 "5m" 与 "M5" 两种写法
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := granularityAliases[key]; ok {
		key = alias
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %q", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
