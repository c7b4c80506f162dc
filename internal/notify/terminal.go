package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"ths-trader/internal/models"
	"ths-trader/pkg/utils"
)

// TerminalNotifier writes trading events to a terminal stream.
type TerminalNotifier struct {
	out io.Writer
}

// NewTerminalNotifier creates a notifier writing to stdout.
func NewTerminalNotifier() *TerminalNotifier {
	return &TerminalNotifier{out: os.Stdout}
}

// NewTerminalNotifierTo creates a notifier writing to the given stream.
func NewTerminalNotifierTo(w io.Writer) *TerminalNotifier {
	return &TerminalNotifier{out: w}
}

// NotifyTrade prints a completed trade.
func (n *TerminalNotifier) NotifyTrade(ctx context.Context, record *models.TradeRecord) error {
	action := "买入"
	if record.Action == models.ActionSell {
		action = "卖出"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 %s %s(%s) %s股 @ %s  金额 %s",
		action, record.Name, record.Code,
		utils.FormatQuantity(record.Quantity),
		utils.FormatCNY(record.Price),
		utils.FormatCNY(record.Amount))
	if record.Action == models.ActionSell {
		fmt.Fprintf(&sb, "  实现盈亏 %s", utils.FormatPnL(record.RealizedPnL))
	}
	if record.DryRun {
		sb.WriteString("  [模拟]")
	}

	_, err := fmt.Fprintln(n.out, sb.String())
	return err
}

// NotifyRiskReject prints a rejected signal with the failing rule.
func (n *TerminalNotifier) NotifyRiskReject(ctx context.Context, signal *models.TradeSignal, result *models.RiskCheckResult) error {
	_, err := fmt.Fprintf(n.out, "🚫 风控拦截 %s(%s) %s: %s (%s)\n",
		signal.Name, signal.Code, signal.Action, result.Reason, result.Message)
	return err
}

// NotifyBreakerTripped prints the circuit breaker trip event.
func (n *TerminalNotifier) NotifyBreakerTripped(ctx context.Context, stats *models.DailyStats) error {
	_, err := fmt.Fprintf(n.out, "⛔ 熔断触发 %s  当日亏损 %s，今日停止交易\n",
		stats.Date, utils.FormatPnL(stats.RealizedPnL))
	return err
}

// NotifySummary prints the outcome of an evaluation pass.
func (n *TerminalNotifier) NotifySummary(ctx context.Context, summary *RunSummary) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 本轮评估 %d 只，信号 %d，拦截 %d，提交 %d，成交 %d，失败 %d",
		summary.Evaluated, summary.Signals, summary.RiskRejected,
		summary.Submitted, summary.Completed, summary.Failed)
	fmt.Fprintf(&sb, "  当日盈亏 %s", utils.FormatPnL(summary.RealizedPnL))
	if summary.BreakerActive {
		sb.WriteString("  ⛔ 熔断生效")
	}

	_, err := fmt.Fprintln(n.out, sb.String())
	return err
}
