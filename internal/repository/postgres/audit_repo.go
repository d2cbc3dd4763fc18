package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/a2a-guard/internal/audit"
	"github.com/xela07ax/a2a-guard/internal/infra"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

const schema = `
CREATE TABLE IF NOT EXISTS safety_audit (
	seq         BIGINT      NOT NULL,
	instance_id TEXT        NOT NULL,
	turn_id     TEXT        NOT NULL,
	session_id  TEXT        NOT NULL DEFAULT '',
	stage       TEXT        NOT NULL,
	verdict     TEXT        NOT NULL,
	category    TEXT        NOT NULL,
	check_name  TEXT        NOT NULL DEFAULT '',
	detail      TEXT        NOT NULL DEFAULT '',
	ts          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (instance_id, seq)
)`

// numFields: количество колонок, которые пишет WriteBatch
const numFields = 10

type AuditRepo struct {
	db *sql.DB
	// instanceID различает процессы: seq уникален только в пределах одного журнала
	instanceID string
}

func NewAuditRepo(cfg infra.DatabaseConfig, instanceID string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db, instanceID: instanceID}, nil
}

// EnsureSchema создает таблицу, если ее нет. Вызывается один раз при старте.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

// WriteBatch реализует audit.StorageInterface. Повторная вставка той же записи игнорируется.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	query, vals := r.buildInsert(entries)
	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

func (r *AuditRepo) buildInsert(entries []audit.Entry) (string, []any) {
	var sb strings.Builder
	vals := make([]any, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			int64(e.Seq), r.instanceID, e.TurnID, e.SessionID,
			string(e.Stage), string(e.Verdict), string(e.Category), e.Check, e.Detail, e.Timestamp,
		)
	}

	query := "INSERT INTO safety_audit (seq, instance_id, turn_id, session_id, stage, verdict, category, check_name, detail, ts) VALUES " +
		sb.String() + " ON CONFLICT (instance_id, seq) DO NOTHING"
	return query, vals
}
