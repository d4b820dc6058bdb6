package reporter

import (
	"bb-rsi-backtest-go/internal/models"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储根据交易日志计算出的回测性能指标
type Metrics struct {
	TotalProfit   float64
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // 百分比
	AvgWin        float64
	AvgLoss       float64
	AvgProfitLoss float64 // 平均盈亏比
	ProfitFactor  float64 // 总盈利 / 总亏损
	MaxDrawdown   float64 // 累计盈亏曲线的最大回撤 (价格单位)
	LongTrades    int
	ShortTrades   int
	StartTime     time.Time
	EndTime       time.Time
}

// CalculateMetrics 根据回测结果计算指标
func CalculateMetrics(res *models.RunResult) Metrics {
	m := Metrics{}
	if res == nil {
		return m
	}
	if n := len(res.Snapshots); n > 0 {
		m.StartTime = time.Unix(res.Snapshots[0].Time, 0).UTC()
		m.EndTime = time.Unix(res.Snapshots[n-1].Time, 0).UTC()
	}

	m.TotalTrades = len(res.Trades)
	var grossProfit, grossLoss float64
	equity := make([]float64, 0, len(res.Trades)+1)
	equity = append(equity, 0)
	for _, t := range res.Trades {
		if t.PnL > 0 {
			m.WinningTrades++
			grossProfit += t.PnL
		} else {
			m.LosingTrades++
			grossLoss += t.PnL
		}
		if t.Side == models.Long {
			m.LongTrades++
		} else {
			m.ShortTrades++
		}
		m.TotalProfit += t.PnL
		equity = append(equity, m.TotalProfit)
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = math.Abs(grossLoss / float64(m.LosingTrades))
	}
	if m.AvgWin > 0 && m.AvgLoss > 0 {
		m.AvgProfitLoss = m.AvgWin / m.AvgLoss
	}
	if grossLoss < 0 {
		m.ProfitFactor = grossProfit / math.Abs(grossLoss)
	}
	m.MaxDrawdown = calculateMaxDrawdown(equity)
	return m
}

// calculateMaxDrawdown 计算累计盈亏曲线从峰值回落的最大幅度。
// 曲线从 0 开始，可能为负，因此使用绝对值而不是比例。
func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// Render 将回测结果报告以表格形式写入 w
func Render(w io.Writer, res *models.RunResult, m Metrics) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("回测结果报告")
	summary.SetStyle(table.StyleLight)
	summary.AppendRows([]table.Row{
		{"运行 ID", res.ID},
		{"交易品种", res.Instrument},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
		{"趋势方向", res.Stats.Trend},
	})
	summary.AppendSeparator()
	summary.AppendRows([]table.Row{
		{"总利润", fmt.Sprintf("%.2f", m.TotalProfit)},
		{"总交易次数", m.TotalTrades},
		{"多/空", fmt.Sprintf("%d / %d", m.LongTrades, m.ShortTrades)},
		{"盈利/亏损次数", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades)},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"盈利因子", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"最大回撤", fmt.Sprintf("%.2f", m.MaxDrawdown)},
	})
	summary.Render()

	if len(res.Trades) == 0 {
		return
	}
	trades := table.NewWriter()
	trades.SetOutputMirror(w)
	trades.SetStyle(table.StyleLight)
	trades.AppendHeader(table.Row{"#", "方向", "开仓时间", "平仓时间", "开仓价", "平仓价", "盈亏"})
	for i, t := range res.Trades {
		trades.AppendRow(table.Row{
			i + 1,
			t.Side,
			t.EntryTime.Format("2006-01-02 15:04"),
			t.ExitTime.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.4f", t.EntryPrice),
			fmt.Sprintf("%.4f", t.ExitPrice),
			fmt.Sprintf("%.4f", t.PnL),
		})
	}
	trades.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	trades.AppendFooter(table.Row{"", "", "", "", "", "合计", fmt.Sprintf("%.4f", m.TotalProfit)})
	trades.Render()
}
