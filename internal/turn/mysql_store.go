package turn

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"R0-Agent/internal/agent"
	xerrors "R0-Agent/internal/errors"
)

// MySQLStore 使用 MySQL 记录回合状态。
type MySQLStore struct {
	db *sql.DB
}

// MySQLStoreOption 调整连接池参数。
type MySQLStoreOption func(*sql.DB)

// WithMaxOpenConns 设置最大打开连接数。
func WithMaxOpenConns(n int) MySQLStoreOption {
	return func(db *sql.DB) {
		if n > 0 {
			db.SetMaxOpenConns(n)
		}
	}
}

// WithMaxIdleConns 设置最大空闲连接数。
func WithMaxIdleConns(n int) MySQLStoreOption {
	return func(db *sql.DB) {
		if n > 0 {
			db.SetMaxIdleConns(n)
		}
	}
}

// WithConnMaxLifetime 设置连接的最长存活时间。
func WithConnMaxLifetime(d time.Duration) MySQLStoreOption {
	return func(db *sql.DB) {
		if d > 0 {
			db.SetConnMaxLifetime(d)
		}
	}
}

// WithConnMaxIdleTime 设置空闲连接的最长保留时间。
func WithConnMaxIdleTime(d time.Duration) MySQLStoreOption {
	return func(db *sql.DB) {
		if d > 0 {
			db.SetConnMaxIdleTime(d)
		}
	}
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string, opts ...MySQLStoreOption) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)
	for _, opt := range opts {
		if opt != nil {
			opt(db)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS turn_states (
        id VARCHAR(64) PRIMARY KEY,
        prompt TEXT NOT NULL,
        session_id VARCHAR(128) DEFAULT '',
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_thought TEXT,
        result_reply TEXT,
        result_trace TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_turn_status (status),
        INDEX idx_turn_session (session_id),
        INDEX idx_turn_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 turn_states 表失败")
	}
	return nil
}

// Create 插入新的回合记录。
func (s *MySQLStore) Create(ctx context.Context, t *Turn) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "turn 不能为空")
	}
	if strings.TrimSpace(t.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "回合 ID 不能为空")
	}

	now := time.Now().Unix()
	t.CreatedAt = now
	t.UpdatedAt = now

	metadataValue, err := marshalMetadata(t.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码回合 metadata 失败")
	}

	const stmt = `INSERT INTO turn_states
        (id, prompt, session_id, metadata, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		t.ID,
		t.Prompt,
		t.SessionID,
		metadataValue,
		t.Status,
		t.Attempts,
		t.MaxRetries,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTurnConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入回合失败")
	}
	return nil
}

// Get 查询指定回合。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Turn, error) {
	const stmt = `SELECT id, prompt, session_id, metadata, status, attempts, max_retries, last_error, error_code,
        result_thought, result_reply, result_trace, created_at, updated_at
        FROM turn_states WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	t, err := scanTurn(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTurnNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回合失败")
	}
	return t, nil
}

// Claim 将回合标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Turn, error) {
	const updateStmt = `UPDATE turn_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新回合状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		t, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch t.Status {
		case StatusSucceeded:
			return t, ErrTurnCompleted
		case StatusRunning:
			return t, ErrTurnConflict
		default:
			if t.Attempts >= t.MaxRetries {
				return t, ErrTurnExhausted
			}
			return t, ErrTurnConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将回合标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	trace, err := marshalTrace(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行轨迹失败")
	}

	const stmt = `UPDATE turn_states SET status = ?, result_thought = ?, result_reply = ?, result_trace = ?,
        updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.Thought,
		result.Reply,
		trace,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记回合成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTurnNotFound
	}
	return nil
}

// MarkFailed 将回合标记为失败，并在必要时终止重试。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE turn_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记回合失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTurnNotFound
	}
	return nil
}

// List 返回最近的回合。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Turn, error) {
	opts.applyDefaults()

	query := `SELECT id, prompt, session_id, metadata, status, attempts, max_retries, last_error, error_code,
        result_thought, result_reply, result_trace, created_at, updated_at FROM turn_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回合列表失败")
	}
	defer rows.Close()

	turns := make([]*Turn, 0, opts.Limit)
	for rows.Next() {
		t, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回合记录失败")
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历回合失败")
	}
	return turns, nil
}

// Stats 返回符合过滤条件的回合聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM turn_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats Stats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回合统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// scanTurn 从一行查询结果中还原回合结构。
func scanTurn(scan func(dest ...any) error) (*Turn, error) {
	var t Turn
	var metadata, thought, reply, trace sql.NullString

	if err := scan(
		&t.ID,
		&t.Prompt,
		&t.SessionID,
		&metadata,
		&t.Status,
		&t.Attempts,
		&t.MaxRetries,
		&t.LastError,
		&t.ErrorCode,
		&thought,
		&reply,
		&trace,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	decodedMetadata, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("解析回合 metadata 失败: %w", err)
	}
	t.Metadata = decodedMetadata

	result, err := unmarshalTrace(thought.String, reply.String, trace)
	if err != nil {
		return nil, fmt.Errorf("解析执行轨迹失败: %w", err)
	}
	t.Result = result
	return &t, nil
}

// trace 列只承载结构化的轨迹字段，thought/reply 单列存储便于检索。
type traceRecord struct {
	Recalled   []string    `json:"recalled,omitempty"`
	Steps      []agentStep `json:"steps,omitempty"`
	Iterations int         `json:"iterations"`
}

type agentStep struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

func stepFromRecord(s agentStep) agent.Step {
	return agent.Step{Tool: s.Tool, Args: s.Args, Outcome: s.Outcome, Error: s.Error}
}

func marshalTrace(result ExecutionResult) (string, error) {
	record := traceRecord{
		Recalled:   result.Recalled,
		Iterations: result.Iterations,
	}
	for _, step := range result.Steps {
		record.Steps = append(record.Steps, agentStep{
			Tool:    step.Tool,
			Args:    step.Args,
			Outcome: step.Outcome,
			Error:   step.Error,
		})
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func unmarshalTrace(thought, reply string, trace sql.NullString) (*ExecutionResult, error) {
	result := ExecutionResult{Thought: thought, Reply: reply}
	if trace.Valid && strings.TrimSpace(trace.String) != "" {
		var record traceRecord
		if err := json.Unmarshal([]byte(trace.String), &record); err != nil {
			return nil, err
		}
		result.Recalled = record.Recalled
		result.Iterations = record.Iterations
		for _, step := range record.Steps {
			result.Steps = append(result.Steps, stepFromRecord(step))
		}
	}
	if !resultPresent(&result) && result.Iterations == 0 {
		return nil, nil
	}
	return &result, nil
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result_thought <> '' OR result_reply <> '' OR (result_trace IS NOT NULL AND result_trace <> ''))")
		} else {
			conditions = append(conditions, "((result_thought IS NULL OR result_thought = '') AND (result_reply IS NULL OR result_reply = '') AND (result_trace IS NULL OR result_trace = ''))")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR prompt LIKE ? OR session_id LIKE ? OR metadata LIKE ? OR last_error LIKE ? OR result_thought LIKE ? OR result_reply LIKE ? OR result_trace LIKE ?)")
		for i := 0; i < 8; i++ {
			args = append(args, pattern)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
