package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-sim/internal/backtest"
	"trades-sim/internal/exchange"
	"trades-sim/internal/store"
)

// ErrRunNotFound 表示回测记录不存在。
var ErrRunNotFound = errors.New("monitor: 回测记录不存在")

const timeLayout = time.RFC3339Nano

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL,
	initial_cash TEXT NOT NULL,
	config TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	total_return REAL NOT NULL DEFAULT 0,
	max_drawdown REAL NOT NULL DEFAULT 0,
	sharpe REAL NOT NULL DEFAULT 0,
	final_value TEXT NOT NULL DEFAULT '',
	metrics TEXT NOT NULL DEFAULT '{}'
)`,
	`CREATE TABLE IF NOT EXISTS backtest_steps (
	run_id TEXT NOT NULL REFERENCES backtest_runs(id),
	idx INTEGER NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL,
	value TEXT NOT NULL,
	cash TEXT NOT NULL,
	cost TEXT NOT NULL,
	traded_value TEXT NOT NULL,
	fills INTEGER NOT NULL,
	successful INTEGER NOT NULL,
	sub_steps INTEGER NOT NULL,
	rejected TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
)`,
	`CREATE TABLE IF NOT EXISTS backtest_fills (
	run_id TEXT NOT NULL REFERENCES backtest_runs(id),
	seq INTEGER NOT NULL,
	step INTEGER NOT NULL,
	order_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	amount INTEGER NOT NULL,
	factor REAL NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL,
	deal_amount INTEGER NOT NULL,
	deal_price TEXT NOT NULL,
	trade_value TEXT NOT NULL,
	trade_cost TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_fills_instrument ON backtest_fills(run_id, instrument)`,
	`CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type)`,
}

// Service 负责持久化回测记录与监控事件，实现 backtest.Recorder。
// 并发的多个回测可共享同一个 Service。
type Service struct {
	store  *store.Store
	db     *sql.DB
	logger *zap.Logger
}

var _ backtest.Recorder = (*Service)(nil)

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		store:  st,
		db:     st.DB(),
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.RunID, string(event.Type), string(payload), event.Timestamp.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// record 写入事件，失败只记日志。
func (s *Service) record(ctx context.Context, event Event) {
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// StartRun 实现 backtest.Recorder。
func (s *Service) StartRun(ctx context.Context, info backtest.RunInfo) error {
	cfg, err := json.Marshal(info.Config)
	if err != nil {
		return fmt.Errorf("monitor: 序列化回测配置失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backtest_runs (id, name, start_at, end_at, initial_cash, config, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name,
		info.Start.UTC().Format(timeLayout), info.End.UTC().Format(timeLayout),
		info.InitialCash.String(), string(cfg), string(RunRunning),
		info.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入回测记录失败: %w", err)
	}

	s.record(ctx, Event{RunID: info.ID, Type: EventRunStarted, Timestamp: info.StartedAt, Payload: info.Config})
	return nil
}

// RecordStep 实现 backtest.Recorder，同一步的指标与成交在一个事务内写入。
func (s *Service) RecordStep(ctx context.Context, runID string, step backtest.StepRecord, fills []exchange.Fill) error {
	rejected := make(map[string]int, len(step.Rejected))
	for status, n := range step.Rejected {
		rejected[string(status)] = n
	}
	rejectedJSON, err := json.Marshal(rejected)
	if err != nil {
		return fmt.Errorf("monitor: 序列化拒绝统计失败: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backtest_steps (run_id, idx, start_at, end_at, value, cash, cost, traded_value, fills, successful, sub_steps, rejected)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, step.Index,
			step.Start.UTC().Format(timeLayout), step.End.UTC().Format(timeLayout),
			step.Value.String(), step.Cash.String(), step.Cost.String(), step.TradedValue.String(),
			step.Fills, step.Successful, step.SubSteps, string(rejectedJSON),
		); err != nil {
			return fmt.Errorf("monitor: 写入步记录失败: %w", err)
		}
		if len(fills) == 0 {
			return nil
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM backtest_fills WHERE run_id = ?`, runID,
		).Scan(&next); err != nil {
			return fmt.Errorf("monitor: 查询成交序号失败: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO backtest_fills (run_id, seq, step, order_id, instrument, direction, amount, factor, start_at, end_at,
			 deal_amount, deal_price, trade_value, trade_cost, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("monitor: 准备成交写入失败: %w", err)
		}
		defer stmt.Close()

		for i, f := range fills {
			if _, err := stmt.ExecContext(ctx,
				runID, next+i, step.Index, f.Order.ID, f.Order.Instrument, string(f.Order.Direction),
				f.Order.Amount, f.Order.Factor,
				f.Order.Start.UTC().Format(timeLayout), f.Order.End.UTC().Format(timeLayout),
				f.DealAmount, f.DealPrice.String(), f.TradeValue.String(), f.TradeCost.String(), string(f.Status),
			); err != nil {
				return fmt.Errorf("monitor: 写入成交失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(rejected) > 0 {
		s.record(ctx, Event{
			RunID:   runID,
			Type:    EventRejection,
			Payload: RejectionPayload{Step: step.Index, Start: step.Start, Rejected: rejected},
		})
	}
	return nil
}

// FinishRun 实现 backtest.Recorder。
func (s *Service) FinishRun(ctx context.Context, runID string, result backtest.Result, runErr error) error {
	status, errText := RunFinished, ""
	if runErr != nil {
		status, errText = RunFailed, runErr.Error()
	}
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return fmt.Errorf("monitor: 序列化指标失败: %w", err)
	}

	finalValue := ""
	if runErr == nil {
		finalValue = result.Final.Value.String()
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE backtest_runs SET status = ?, error = ?, finished_at = ?, total_return = ?, max_drawdown = ?,
		 sharpe = ?, final_value = ?, metrics = ? WHERE id = ?`,
		string(status), errText, now.Format(timeLayout),
		result.Metrics.TotalReturn, result.Metrics.MaxDrawdown, result.Metrics.SharpeRatio,
		finalValue, string(metrics), runID,
	)
	if err != nil {
		return fmt.Errorf("monitor: 更新回测记录失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if runErr != nil {
		s.record(ctx, Event{RunID: runID, Type: EventRunFailed, Timestamp: now,
			Payload: ErrorPayload{Message: "回测中止", Error: errText}})
	} else {
		s.record(ctx, Event{RunID: runID, Type: EventRunFinished, Timestamp: now, Payload: result.Metrics})
	}
	return nil
}

const runColumns = `id, name, start_at, end_at, initial_cash, status, error, started_at, finished_at,
	total_return, max_drawdown, sharpe, final_value`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                                 Run
		status                            string
		start, end, startedAt, finishedAt string
	)
	if err := row.Scan(&r.ID, &r.Name, &start, &end, &r.InitialCash, &status, &r.Error, &startedAt, &finishedAt,
		&r.TotalReturn, &r.MaxDrawdown, &r.Sharpe, &r.FinalValue); err != nil {
		return Run{}, err
	}

	r.Status = RunStatus(status)
	r.Start = parseTime(start)
	r.End = parseTime(end)
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTime(finishedAt)
	return r, nil
}

// GetRun 读取单个回测记录。
func (s *Service) GetRun(ctx context.Context, runID string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("monitor: 读取回测记录失败: %w", err)
	}
	return r, nil
}

// ListRuns 按开始时间倒序返回最近的回测记录。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM backtest_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询回测记录失败: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("monitor: 解析回测记录失败: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取回测记录失败: %w", err)
	}
	return runs, nil
}

// ListSteps 按顺序返回回测的全部步记录。
func (s *Service) ListSteps(ctx context.Context, runID string) ([]backtest.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, start_at, end_at, value, cash, cost, traded_value, fills, successful, sub_steps, rejected
		 FROM backtest_steps WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询步记录失败: %w", err)
	}
	defer rows.Close()

	var steps []backtest.StepRecord
	for rows.Next() {
		var (
			st                                  backtest.StepRecord
			start, end                          string
			value, cash, cost, traded, rejected string
		)
		if err := rows.Scan(&st.Index, &start, &end, &value, &cash, &cost, &traded,
			&st.Fills, &st.Successful, &st.SubSteps, &rejected); err != nil {
			return nil, fmt.Errorf("monitor: 解析步记录失败: %w", err)
		}
		st.Start = parseTime(start)
		st.End = parseTime(end)
		if st.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("monitor: 解析权益失败: %w", err)
		}
		if st.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("monitor: 解析现金失败: %w", err)
		}
		if st.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("monitor: 解析成本失败: %w", err)
		}
		if st.TradedValue, err = decimal.NewFromString(traded); err != nil {
			return nil, fmt.Errorf("monitor: 解析成交额失败: %w", err)
		}

		var counts map[string]int
		if err := json.Unmarshal([]byte(rejected), &counts); err != nil {
			return nil, fmt.Errorf("monitor: 解析拒绝统计失败: %w", err)
		}
		if len(counts) > 0 {
			st.Rejected = make(map[exchange.Status]int, len(counts))
			for k, n := range counts {
				st.Rejected[exchange.Status(k)] = n
			}
		}
		steps = append(steps, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取步记录失败: %w", err)
	}
	return steps, nil
}

// ListFills 按撮合顺序返回回测的全部成交，instrument 为空时不过滤。
func (s *Service) ListFills(ctx context.Context, runID, instrument string) ([]exchange.Fill, error) {
	query := `SELECT order_id, instrument, direction, amount, factor, start_at, end_at,
		deal_amount, deal_price, trade_value, trade_cost, status FROM backtest_fills WHERE run_id = ?`
	args := []interface{}{runID}
	if instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, instrument)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询成交失败: %w", err)
	}
	defer rows.Close()

	var fills []exchange.Fill
	for rows.Next() {
		var (
			f                  exchange.Fill
			direction, status  string
			start, end         string
			price, value, cost string
		)
		if err := rows.Scan(&f.Order.ID, &f.Order.Instrument, &direction, &f.Order.Amount, &f.Order.Factor,
			&start, &end, &f.DealAmount, &price, &value, &cost, &status); err != nil {
			return nil, fmt.Errorf("monitor: 解析成交失败: %w", err)
		}
		f.Order.Direction = exchange.Direction(direction)
		f.Order.Start = parseTime(start)
		f.Order.End = parseTime(end)
		f.Status = exchange.Status(status)
		if f.DealPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("monitor: 解析成交价失败: %w", err)
		}
		if f.TradeValue, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("monitor: 解析成交额失败: %w", err)
		}
		if f.TradeCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("monitor: 解析交易成本失败: %w", err)
		}
		fills = append(fills, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取成交失败: %w", err)
	}
	return fills, nil
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT run_id, event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			runID   string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&runID, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		events = append(events, Event{
			RunID:     runID,
			Type:      EventType(typ),
			Timestamp: parseTime(created),
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
