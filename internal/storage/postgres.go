package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("storage: not found")

// PostgresStore implements Store over jackc/pgx/v5's connection pool.
// The query shapes here are authored directly against the documented
// table list and pgx's own documented API (Exec/QueryRow/Query,
// pgx.ErrNoRows, row-level locking via `FOR UPDATE` inside an explicit
// transaction).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cipher *TokenCipher
}

// NewPostgresStore connects to dsn and verifies the connection with a
// ping before returning.
func NewPostgresStore(ctx context.Context, logger *zap.Logger, dsn string, maxOpen, maxIdle int32, cipher *TokenCipher) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = maxOpen
	cfg.MinConns = maxIdle

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger, cipher: cipher}, nil
}

func (s *PostgresStore) Close() {
	s.logger.Info("closing database pool")
	s.pool.Close()
}

func (s *PostgresStore) SaveBrokerAccount(ctx context.Context, account types.BrokerAccount) error {
	encrypted, err := s.cipher.Encrypt(account.APIToken)
	if err != nil {
		return fmt.Errorf("encrypt api token: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO broker_account (id, owner, broker_id, api_token, environment, jurisdiction, balance, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			broker_id = EXCLUDED.broker_id, api_token = EXCLUDED.api_token,
			environment = EXCLUDED.environment, jurisdiction = EXCLUDED.jurisdiction,
			balance = EXCLUDED.balance, is_active = EXCLUDED.is_active`,
		account.ID, account.Owner, account.BrokerID, encrypted,
		account.Environment, account.Jurisdiction, account.Balance, account.IsActive)
	return err
}

func (s *PostgresStore) scanBrokerAccount(row pgx.Row) (types.BrokerAccount, error) {
	var a types.BrokerAccount
	var encrypted []byte
	err := row.Scan(&a.ID, &a.Owner, &a.BrokerID, &encrypted, &a.Environment, &a.Jurisdiction, &a.Balance, &a.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.BrokerAccount{}, ErrNotFound
	}
	if err != nil {
		return types.BrokerAccount{}, err
	}
	a.APIToken, err = s.cipher.Decrypt(encrypted)
	if err != nil {
		return types.BrokerAccount{}, fmt.Errorf("decrypt api token: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetBrokerAccount(ctx context.Context, id string) (types.BrokerAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner, broker_id, api_token, environment, jurisdiction, balance, is_active
		FROM broker_account WHERE id = $1`, id)
	return s.scanBrokerAccount(row)
}

func (s *PostgresStore) ListBrokerAccountsByOwner(ctx context.Context, owner string) ([]types.BrokerAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, broker_id, api_token, environment, jurisdiction, balance, is_active
		FROM broker_account WHERE owner = $1`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.BrokerAccount
	for rows.Next() {
		a, err := s.scanBrokerAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetBrokerAccountByAPIToken decrypts every active account's stored
// token and compares, since the column is encrypted with a random
// nonce per row and can't be looked up by equality in SQL. This is the
// concrete lookup behind internal/realtime.Authenticator.
func (s *PostgresStore) GetBrokerAccountByAPIToken(ctx context.Context, token string) (types.BrokerAccount, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, broker_id, api_token, environment, jurisdiction, balance, is_active
		FROM broker_account WHERE is_active = true`)
	if err != nil {
		return types.BrokerAccount{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := s.scanBrokerAccount(rows)
		if err != nil {
			return types.BrokerAccount{}, false, err
		}
		if string(a.APIToken) == token {
			return a, true, nil
		}
	}
	return types.BrokerAccount{}, false, rows.Err()
}

func (s *PostgresStore) SaveStrategyConfig(ctx context.Context, cfg types.StrategyConfig) error {
	params, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategy_config (id, owner, name, strategy_type, parameters)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, strategy_type = EXCLUDED.strategy_type, parameters = EXCLUDED.parameters`,
		cfg.ID, cfg.Owner, cfg.Name, cfg.StrategyType, params)
	return err
}

func (s *PostgresStore) GetStrategyConfig(ctx context.Context, id string) (types.StrategyConfig, error) {
	var cfg types.StrategyConfig
	var params []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner, name, strategy_type, parameters FROM strategy_config WHERE id = $1`, id).
		Scan(&cfg.ID, &cfg.Owner, &cfg.Name, &cfg.StrategyType, &params)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.StrategyConfig{}, ErrNotFound
	}
	if err != nil {
		return types.StrategyConfig{}, err
	}
	if err := json.Unmarshal(params, &cfg.Parameters); err != nil {
		return types.StrategyConfig{}, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) SaveBacktestTask(ctx context.Context, task *types.BacktestTask) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backtest_task (id, owner, config_id, name, status, retry_count, max_retries,
			start_time, end_time, instrument, initial_balance, commission_per_trade, data_source, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, retry_count = EXCLUDED.retry_count, updated_at = EXCLUDED.updated_at`,
		task.ID, task.Owner, task.ConfigID, task.Name, task.Status, task.RetryCount, task.MaxRetries,
		task.StartTime, task.EndTime, task.Instrument, task.InitialBalance, task.CommissionPerTrade,
		task.DataSource, task.CreatedAt, task.UpdatedAt)
	return err
}

func (s *PostgresStore) SaveTradingTask(ctx context.Context, task *types.TradingTask) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trading_task (id, owner, config_id, name, status, retry_count, max_retries,
			broker_account_id, sell_on_stop, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, retry_count = EXCLUDED.retry_count, updated_at = EXCLUDED.updated_at`,
		task.ID, task.Owner, task.ConfigID, task.Name, task.Status, task.RetryCount, task.MaxRetries,
		task.BrokerAccountID, task.SellOnStop, task.CreatedAt, task.UpdatedAt)
	return err
}

// GetTask looks the id up in backtest_task first, then trading_task,
// since the two variants share no table.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (types.Task, error) {
	var bt types.BacktestTask
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at,
			start_time, end_time, instrument, initial_balance, commission_per_trade, data_source
		FROM backtest_task WHERE id = $1`, id).Scan(
		&bt.ID, &bt.Owner, &bt.ConfigID, &bt.Name, &bt.Status, &bt.RetryCount, &bt.MaxRetries,
		&bt.CreatedAt, &bt.UpdatedAt, &bt.StartTime, &bt.EndTime, &bt.Instrument,
		&bt.InitialBalance, &bt.CommissionPerTrade, &bt.DataSource)
	if err == nil {
		return &bt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var tt types.TradingTask
	err = s.pool.QueryRow(ctx, `
		SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at,
			broker_account_id, sell_on_stop
		FROM trading_task WHERE id = $1`, id).Scan(
		&tt.ID, &tt.Owner, &tt.ConfigID, &tt.Name, &tt.Status, &tt.RetryCount, &tt.MaxRetries,
		&tt.CreatedAt, &tt.UpdatedAt, &tt.BrokerAccountID, &tt.SellOnStop)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// UpdateTaskStatus locks the task row FOR UPDATE inside a transaction,
// lets apply mutate the loaded TaskBase, and writes status/retry_count
// back to whichever of the two task tables owns this id — the
// serialised-update guarantee task state transitions require.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, apply func(*types.TaskBase) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var table string
	var base types.TaskBase
	row := tx.QueryRow(ctx, `
		SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at
		FROM backtest_task WHERE id = $1 FOR UPDATE`, id)
	err = row.Scan(&base.ID, &base.Owner, &base.ConfigID, &base.Name, &base.Status,
		&base.RetryCount, &base.MaxRetries, &base.CreatedAt, &base.UpdatedAt)
	if err == nil {
		table = "backtest_task"
	} else if errors.Is(err, pgx.ErrNoRows) {
		row = tx.QueryRow(ctx, `
			SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at
			FROM trading_task WHERE id = $1 FOR UPDATE`, id)
		err = row.Scan(&base.ID, &base.Owner, &base.ConfigID, &base.Name, &base.Status,
			&base.RetryCount, &base.MaxRetries, &base.CreatedAt, &base.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		table = "trading_task"
	}
	if err != nil {
		return err
	}

	if err := apply(&base); err != nil {
		return err
	}
	base.UpdatedAt = time.Now()

	_, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status = $1, retry_count = $2, updated_at = $3 WHERE id = $4`, table),
		base.Status, base.RetryCount, base.UpdatedAt, base.ID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTasksByOwner(ctx context.Context, owner string) ([]types.Task, error) {
	var out []types.Task

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at,
			start_time, end_time, instrument, initial_balance, commission_per_trade, data_source
		FROM backtest_task WHERE owner = $1`, owner)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var bt types.BacktestTask
		if err := rows.Scan(&bt.ID, &bt.Owner, &bt.ConfigID, &bt.Name, &bt.Status, &bt.RetryCount, &bt.MaxRetries,
			&bt.CreatedAt, &bt.UpdatedAt, &bt.StartTime, &bt.EndTime, &bt.Instrument,
			&bt.InitialBalance, &bt.CommissionPerTrade, &bt.DataSource); err != nil {
			rows.Close()
			return nil, err
		}
		b := bt
		out = append(out, &b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at,
			broker_account_id, sell_on_stop
		FROM trading_task WHERE owner = $1`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tt types.TradingTask
		if err := rows.Scan(&tt.ID, &tt.Owner, &tt.ConfigID, &tt.Name, &tt.Status, &tt.RetryCount, &tt.MaxRetries,
			&tt.CreatedAt, &tt.UpdatedAt, &tt.BrokerAccountID, &tt.SellOnStop); err != nil {
			return nil, err
		}
		t := tt
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTradingTasksByAccount(ctx context.Context, brokerAccountID string) ([]*types.TradingTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, config_id, name, status, retry_count, max_retries, created_at, updated_at,
			broker_account_id, sell_on_stop
		FROM trading_task WHERE broker_account_id = $1`, brokerAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.TradingTask
	for rows.Next() {
		var tt types.TradingTask
		if err := rows.Scan(&tt.ID, &tt.Owner, &tt.ConfigID, &tt.Name, &tt.Status, &tt.RetryCount, &tt.MaxRetries,
			&tt.CreatedAt, &tt.UpdatedAt, &tt.BrokerAccountID, &tt.SellOnStop); err != nil {
			return nil, err
		}
		out = append(out, &tt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTaskExecution(ctx context.Context, exec types.TaskExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_execution (id, task_type, task_id, execution_number, status, started_at, completed_at, error_message, progress)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message, progress = EXCLUDED.progress`,
		exec.ID, exec.TaskType, exec.TaskID, exec.ExecutionNumber, exec.Status,
		exec.StartedAt, exec.CompletedAt, exec.ErrorMessage, exec.Progress)
	return err
}

func (s *PostgresStore) GetLatestExecution(ctx context.Context, taskID string) (types.TaskExecution, bool, error) {
	var e types.TaskExecution
	err := s.pool.QueryRow(ctx, `
		SELECT id, task_type, task_id, execution_number, status, started_at, completed_at, error_message, progress
		FROM task_execution WHERE task_id = $1 ORDER BY execution_number DESC LIMIT 1`, taskID).
		Scan(&e.ID, &e.TaskType, &e.TaskID, &e.ExecutionNumber, &e.Status, &e.StartedAt, &e.CompletedAt, &e.ErrorMessage, &e.Progress)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.TaskExecution{}, false, nil
	}
	return e, err == nil, err
}

func (s *PostgresStore) ListExecutions(ctx context.Context, taskID string) ([]types.TaskExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_type, task_id, execution_number, status, started_at, completed_at, error_message, progress
		FROM task_execution WHERE task_id = $1 ORDER BY execution_number ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TaskExecution
	for rows.Next() {
		var e types.TaskExecution
		if err := rows.Scan(&e.ID, &e.TaskType, &e.TaskID, &e.ExecutionNumber, &e.Status, &e.StartedAt, &e.CompletedAt, &e.ErrorMessage, &e.Progress); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveOrder(ctx context.Context, order types.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO "order" (id, account, broker_order_id, instrument, type, direction, units, price,
			take_profit, stop_loss, status, filled_at, reject_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			broker_order_id = EXCLUDED.broker_order_id, status = EXCLUDED.status,
			filled_at = EXCLUDED.filled_at, reject_reason = EXCLUDED.reject_reason`,
		order.ID, order.Account, order.BrokerOrderID, order.Instrument, order.Type, order.Direction,
		order.Units, order.Price, order.TakeProfit, order.StopLoss, order.Status, order.FilledAt, order.RejectReason)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (types.Order, error) {
	var o types.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, account, broker_order_id, instrument, type, direction, units, price,
			take_profit, stop_loss, status, filled_at, reject_reason
		FROM "order" WHERE id = $1`, id).Scan(
		&o.ID, &o.Account, &o.BrokerOrderID, &o.Instrument, &o.Type, &o.Direction, &o.Units,
		&o.Price, &o.TakeProfit, &o.StopLoss, &o.Status, &o.FilledAt, &o.RejectReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Order{}, ErrNotFound
	}
	return o, err
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context, account string) ([]types.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, broker_order_id, instrument, type, direction, units, price,
			take_profit, stop_loss, status, filled_at, reject_reason
		FROM "order" WHERE account = $1 AND status = $2`, account, types.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var o types.Order
		if err := rows.Scan(&o.ID, &o.Account, &o.BrokerOrderID, &o.Instrument, &o.Type, &o.Direction, &o.Units,
			&o.Price, &o.TakeProfit, &o.StopLoss, &o.Status, &o.FilledAt, &o.RejectReason); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePosition(ctx context.Context, position types.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO position (id, account, strategy, instrument, direction, units, entry_price,
			current_price, unrealized_pnl, realized_pnl, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			units = EXCLUDED.units, current_price = EXCLUDED.current_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl, realized_pnl = EXCLUDED.realized_pnl,
			closed_at = EXCLUDED.closed_at`,
		position.ID, position.Account, position.Strategy, position.Instrument, position.Direction,
		position.Units, position.EntryPrice, position.CurrentPrice, position.UnrealizedPnL,
		position.RealizedPnL, position.OpenedAt, position.ClosedAt)
	return err
}

func (s *PostgresStore) ListOpenPositions(ctx context.Context, account string) ([]types.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, strategy, instrument, direction, units, entry_price, current_price,
			unrealized_pnl, realized_pnl, opened_at, closed_at
		FROM position WHERE account = $1 AND closed_at IS NULL`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) ListPositionHistory(ctx context.Context, account string, since time.Time) ([]types.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, strategy, instrument, direction, units, entry_price, current_price,
			unrealized_pnl, realized_pnl, opened_at, closed_at
		FROM position WHERE account = $1 AND closed_at IS NOT NULL AND closed_at >= $2
		ORDER BY closed_at DESC`, account, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]types.Position, error) {
	var out []types.Position
	for rows.Next() {
		var p types.Position
		if err := rows.Scan(&p.ID, &p.Account, &p.Strategy, &p.Instrument, &p.Direction, &p.Units,
			&p.EntryPrice, &p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveAuditEvent(ctx context.Context, event types.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO event (id, category, type, severity, timestamp, actor, account, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		event.ID, event.Category, event.Type, event.Severity, event.Timestamp, event.Actor, event.Account, details)
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, account string, since time.Time) ([]types.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, type, severity, timestamp, actor, account, details
		FROM event WHERE account = $1 AND timestamp >= $2 ORDER BY timestamp ASC`, account, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		var e types.AuditEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.Category, &e.Type, &e.Severity, &e.Timestamp, &e.Actor, &e.Account, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendTaskLog(ctx context.Context, log TaskLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_log (id, task_id, execution_id, level, message, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		log.ID, log.TaskID, log.ExecutionID, log.Level, log.Message, log.Timestamp)
	return err
}

func (s *PostgresStore) AppendTaskMetric(ctx context.Context, metric TaskMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_metric (id, task_id, execution_id, name, value, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		metric.ID, metric.TaskID, metric.ExecutionID, metric.Name, metric.Value, metric.Timestamp)
	return err
}
