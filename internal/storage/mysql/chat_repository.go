package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// ChatRecord 表示一次对话执行的落库结构。
type ChatRecord struct {
	SessionID        string `json:"session_id"`
	Prompt           string `json:"prompt"`
	Reply            string `json:"reply"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	ToolTrace        string `json:"tool_trace"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CreatedAt        int64  `json:"created_at"`
}

// ChatRepository 抽象对话记录的持久化接口。
type ChatRepository interface {
	Save(ctx context.Context, record ChatRecord) error
	ListLatest(ctx context.Context, limit int) ([]ChatRecord, error)
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("不支持的存储驱动")

// maxCachedRecords 限制内存仓库保留的最近记录数量。
const maxCachedRecords = 512

// MemoryChatRepository 使用本地 JSON 追加日志模拟 MySQL 的效果，方便迭代开发。
type MemoryChatRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ChatRecord
}

// NewMemoryChatRepository 创建一个内存对话仓库。
func NewMemoryChatRepository(dataDir string) (*MemoryChatRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryChatRepository{dataFile: filepath.Join(dataDir, "chats.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录对话结果。
func (m *MemoryChatRepository) Save(_ context.Context, record ChatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开对话日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化对话记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入对话日志失败: %w", err)
	}

	m.records = append([]ChatRecord{record}, m.records...)
	if len(m.records) > maxCachedRecords {
		m.records = m.records[:maxCachedRecords]
	}
	return nil
}

// ListLatest 返回最近的对话记录，按时间倒序排列。
func (m *MemoryChatRepository) ListLatest(_ context.Context, limit int) ([]ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]ChatRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryChatRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取对话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ChatRecord
	for scanner.Scan() {
		var record ChatRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ChatRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析对话日志失败: %w", err)
	}

	if len(restored) > maxCachedRecords {
		restored = restored[:maxCachedRecords]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLChatRepository 使用真实的 MySQL 数据库存储对话信息。
type SQLChatRepository struct {
	db *sql.DB
}

// NewSQLChatRepository 创建连接池并初始化数据表。
func NewSQLChatRepository(ctx context.Context, cfg Config) (*SQLChatRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLChatRepository{db: db}
	if err := repo.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (s *SQLChatRepository) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS chat_records (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) DEFAULT '',
        prompt TEXT NOT NULL,
        reply TEXT NOT NULL,
        model VARCHAR(128) DEFAULT '',
        finish_reason VARCHAR(32) DEFAULT '',
        tool_trace TEXT NOT NULL,
        prompt_tokens INT NOT NULL DEFAULT 0,
        completion_tokens INT NOT NULL DEFAULT 0,
        total_tokens INT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_created_at (created_at),
        INDEX idx_session (session_id)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化 chat_records 表失败: %w", err)
	}
	return nil
}

// Save 将对话记录写入 MySQL。
func (s *SQLChatRepository) Save(ctx context.Context, record ChatRecord) error {
	const stmt = `INSERT INTO chat_records
        (session_id, prompt, reply, model, finish_reason, tool_trace,
         prompt_tokens, completion_tokens, total_tokens, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.SessionID,
		record.Prompt,
		record.Reply,
		record.Model,
		record.FinishReason,
		record.ToolTrace,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条对话记录。
func (s *SQLChatRepository) ListLatest(ctx context.Context, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT session_id, prompt, reply, model, finish_reason,
        tool_trace, prompt_tokens, completion_tokens, total_tokens, created_at
        FROM chat_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询对话记录失败: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var record ChatRecord
		if err := rows.Scan(
			&record.SessionID,
			&record.Prompt,
			&record.Reply,
			&record.Model,
			&record.FinishReason,
			&record.ToolTrace,
			&record.PromptTokens,
			&record.CompletionTokens,
			&record.TotalTokens,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("解析对话记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对话记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLChatRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
