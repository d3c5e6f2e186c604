package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"R0-Agent/internal/memory"
)

// snippetRow 是记忆片段在磁盘上的序列化结构。
type snippetRow struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Vector    []float64 `json:"vector,omitempty"`
	CreatedAt int64     `json:"created_at"`
}

func rowFromSnippet(snippet memory.Snippet, vector []float64) snippetRow {
	id := snippet.ID
	if id == "" {
		id = uuid.NewString()
	}
	return snippetRow{
		ID:        id,
		SessionID: snippet.SessionID,
		Text:      snippet.Text,
		Vector:    vector,
		CreatedAt: snippet.CreatedAt.Unix(),
	}
}

func (r snippetRow) toSnippet() memory.Snippet {
	return memory.Snippet{
		ID:        r.ID,
		SessionID: r.SessionID,
		Text:      r.Text,
		CreatedAt: time.Unix(r.CreatedAt, 0),
	}
}

// SQLSnippetRepository 将记忆片段持久化到 MySQL，向量以 JSON 列保存。
type SQLSnippetRepository struct {
	db *sql.DB
}

// NewSQLSnippetRepository 建立连接池并执行内嵌迁移。
func NewSQLSnippetRepository(ctx context.Context, cfg Config) (*SQLSnippetRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLSnippetRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// SaveSnippet 实现 memory.Repository 接口。
func (s *SQLSnippetRepository) SaveSnippet(ctx context.Context, snippet memory.Snippet, vector []float64) error {
	row := rowFromSnippet(snippet, vector)

	var vectorJSON any
	if len(row.Vector) > 0 {
		encoded, err := json.Marshal(row.Vector)
		if err != nil {
			return fmt.Errorf("序列化向量失败: %w", err)
		}
		vectorJSON = string(encoded)
	}

	const stmt = `INSERT INTO memory_snippets
        (id, session_id, text, vector, created_at)
        VALUES (?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		row.ID,
		row.SessionID,
		row.Text,
		vectorJSON,
		row.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入记忆片段失败: %w", err)
	}
	return nil
}

// LoadSnippets 按写入先后返回某会话的全部记忆片段及其向量。
func (s *SQLSnippetRepository) LoadSnippets(ctx context.Context, sessionID string) ([]memory.Snippet, [][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, text, vector, created_at
        FROM memory_snippets WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("查询记忆片段失败: %w", err)
	}
	defer rows.Close()

	var (
		snippets []memory.Snippet
		vectors  [][]float64
	)
	for rows.Next() {
		var (
			row        snippetRow
			vectorJSON sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Text, &vectorJSON, &row.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("解析记忆片段失败: %w", err)
		}

		var vector []float64
		if vectorJSON.Valid && vectorJSON.String != "" {
			if err := json.Unmarshal([]byte(vectorJSON.String), &vector); err != nil {
				return nil, nil, fmt.Errorf("解析向量失败: %w", err)
			}
		}

		snippets = append(snippets, row.toSnippet())
		vectors = append(vectors, vector)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("遍历记忆片段失败: %w", err)
	}
	return snippets, vectors, nil
}

// Close 关闭底层数据库连接。
func (s *SQLSnippetRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// JSONLSnippetRepository 使用本地 JSONL 文件模拟数据库，方便迭代开发。
type JSONLSnippetRepository struct {
	mu       sync.Mutex
	dataFile string
}

// NewJSONLSnippetRepository 创建文件仓库，目录不存在时自动创建。
func NewJSONLSnippetRepository(dataDir string) (*JSONLSnippetRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &JSONLSnippetRepository{dataFile: filepath.Join(dataDir, "memory_snippets.log")}, nil
}

// SaveSnippet 以追加写的方式记录记忆片段。
func (j *JSONLSnippetRepository) SaveSnippet(_ context.Context, snippet memory.Snippet, vector []float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开记忆日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(rowFromSnippet(snippet, vector))
	if err != nil {
		return fmt.Errorf("序列化记忆片段失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入记忆日志失败: %w", err)
	}
	return nil
}

// LoadSnippets 重放日志文件，按写入顺序返回某会话的片段。
func (j *JSONLSnippetRepository) LoadSnippets(_ context.Context, sessionID string) ([]memory.Snippet, [][]float64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("读取记忆日志失败: %w", err)
	}
	defer file.Close()

	var (
		snippets []memory.Snippet
		vectors  [][]float64
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var row snippetRow
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			// 损坏的行跳过，不影响其余记忆。
			continue
		}
		if row.SessionID != sessionID {
			continue
		}
		snippets = append(snippets, row.toSnippet())
		vectors = append(vectors, row.Vector)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("解析记忆日志失败: %w", err)
	}
	return snippets, vectors, nil
}

var (
	_ memory.Repository = (*SQLSnippetRepository)(nil)
	_ memory.Repository = (*JSONLSnippetRepository)(nil)
)
