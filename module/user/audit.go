package user

import (
	"context"
	"database/sql"
	"time"

	"PPoker/tools/errs"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	ActionLogin    = "login"
	ActionLogout   = "logout"
	ActionConflict = "conflict"
)

// AuditEvent 登录日志，一次登录/登出/冲突一行
type AuditEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	RemoteAddr string    `json:"remoteAddr"`
	TokenHash  string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Auditor interface {
	Record(ctx context.Context, e AuditEvent) error
	Recent(ctx context.Context, username string, limit int) ([]AuditEvent, error)
}

type NopAuditor struct{}

func (NopAuditor) Record(context.Context, AuditEvent) error { return nil }
func (NopAuditor) Recent(context.Context, string, int) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS login_audit (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	username    TEXT NOT NULL,
	action      TEXT NOT NULL,
	remote_addr TEXT NOT NULL DEFAULT '',
	token_hash  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
)`

// PgAuditor 登录日志写 postgres（pgx 的 database/sql 驱动）
type PgAuditor struct {
	db  *sql.DB
	now func() time.Time
}

func NewPgAuditor(db *sql.DB) *PgAuditor {
	return &PgAuditor{db: db, now: time.Now}
}

// OpenPgAuditor 连接并建表
func OpenPgAuditor(ctx context.Context, dsn string) (*PgAuditor, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	a := NewPgAuditor(db)
	if err := a.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *PgAuditor) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, schema)
	return errs.WrapMsg(err, "create login_audit")
}

func (a *PgAuditor) Record(ctx context.Context, e AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO login_audit (id, user_id, username, action, remote_addr, token_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, e.Username, e.Action, e.RemoteAddr, e.TokenHash, e.CreatedAt)
	return errs.WrapMsg(err, "insert login_audit", "username", e.Username)
}

func (a *PgAuditor) Recent(ctx context.Context, username string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, user_id, username, action, remote_addr, created_at
		 FROM login_audit WHERE username = $1 ORDER BY created_at DESC LIMIT $2`,
		username, limit)
	if err != nil {
		return nil, errs.WrapMsg(err, "query login_audit", "username", username)
	}
	defer rows.Close()
	out := make([]AuditEvent, 0)
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Action, &e.RemoteAddr, &e.CreatedAt); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, e)
	}
	return out, errs.Wrap(rows.Err())
}

func (a *PgAuditor) Close() error { return a.db.Close() }
