package backtest

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trades-sim/internal/position"
)

// Report 为回测结果的可读摘要。
type Report struct {
	RunID      string             `yaml:"run_id"`
	Name       string             `yaml:"name"`
	Start      string             `yaml:"start"`
	End        string             `yaml:"end"`
	Metrics    Metrics            `yaml:"metrics"`
	FinalCash  string             `yaml:"final_cash"`
	FinalValue string             `yaml:"final_value"`
	Realized   string             `yaml:"realized_pnl"`
	Positions  []position.Summary `yaml:"positions"`
	Steps      []ReportStep       `yaml:"steps"`
}

// ReportStep 为报告中的一步。
type ReportStep struct {
	Index    int    `yaml:"index"`
	Start    string `yaml:"start"`
	Value    string `yaml:"value"`
	Cost     string `yaml:"cost"`
	Fills    int    `yaml:"fills"`
	Success  int    `yaml:"success"`
	SubSteps int    `yaml:"sub_steps"`
}

// NewReport 从回测结果生成报告。
func NewReport(r Result) Report {
	rep := Report{
		RunID:      r.RunID,
		Name:       r.Name,
		Start:      formatTime(r.Start),
		End:        formatTime(r.End),
		Metrics:    r.Metrics,
		FinalCash:  r.Final.Cash.StringFixed(2),
		FinalValue: r.Final.Value.StringFixed(2),
		Realized:   r.Final.RealizedPnL.StringFixed(2),
		Positions:  r.Final.Summaries(),
	}
	for _, s := range r.Steps {
		rep.Steps = append(rep.Steps, ReportStep{
			Index:    s.Index,
			Start:    formatTime(s.Start),
			Value:    s.Value.StringFixed(2),
			Cost:     s.Cost.StringFixed(2),
			Fills:    s.Fills,
			Success:  s.Successful,
			SubSteps: s.SubSteps,
		})
	}
	return rep
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(time.RFC3339)
}

// WriteReport 以 YAML 输出报告。
func WriteReport(w io.Writer, r Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewReport(r)); err != nil {
		return fmt.Errorf("backtest: 输出报告失败: %w", err)
	}
	return enc.Close()
}

// SaveReport 将报告写入文件。
func SaveReport(path string, r Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backtest: 创建报告文件失败: %w", err)
	}
	if err := WriteReport(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
