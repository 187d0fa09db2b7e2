package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	apperrors "SendPilot/internal/errors"
)

// MySQLStore 将会话状态以 JSON 持久化到 MySQL，
// 过期由 expires_at 列加惰性清理完成。
type MySQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

// MySQLConfig MySQL 会话存储配置。
type MySQLConfig struct {
	DSN             string
	TTL             time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 建立连接池、验证可达性并确保会话表存在。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db, ttl: cfg.TTL}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chat_sessions (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        state JSON NOT NULL,
        expires_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        KEY idx_chat_sessions_expires (expires_at)
)`)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "创建 chat_sessions 表失败")
	}
	return nil
}

// Get 实现 Store 接口。
func (s *MySQLStore) Get(ctx context.Context, id string) (*State, error) {
	var raw []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT state, expires_at FROM chat_sessions WHERE id = ?`, id)
	if err := row.Scan(&raw, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取会话失败")
	}
	if time.Now().Unix() > expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
		return nil, ErrSessionNotFound
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析会话数据失败")
	}
	return &state, nil
}

// Put 实现 Store 接口，同时顺带清理已过期的会话。
func (s *MySQLStore) Put(ctx context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return ErrSessionNotFound
	}
	now := time.Now()
	state.UpdatedAt = now
	raw, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "序列化会话失败")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO chat_sessions (id, state, expires_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = VALUES(state), expires_at = VALUES(expires_at), updated_at = VALUES(updated_at)`,
		state.ID, raw, now.Add(s.ttl).Unix(), now.Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入会话失败")
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE expires_at < ? LIMIT 100`, now.Unix())
	return nil
}

// Delete 实现 Store 接口。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Close 实现 Store 接口。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
