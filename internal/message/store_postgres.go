package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chainrelay/internal/platform/postgres"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
	txcontext "chainrelay/pkg/platform/tx"
	"chainrelay/pkg/requestcontext"
)

// PostgresStore persists messages in PostgreSQL. Ids come from a BIGSERIAL
// sequence; notarization updates lock the row so concurrent writers cannot
// move a message backwards.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed message store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn joins a transaction carried by ctx, if any.
func (s *PostgresStore) conn(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const messageColumns = `id, sender_id, receiver_id, payload, message_hash, notarization_state,
	COALESCE(tx_ref, ''), notarization_attempts, COALESCE(last_error, ''), created_at`

func (s *PostgresStore) Persist(ctx context.Context, msg *Message) (id.MessageID, error) {
	if msg == nil {
		return 0, fmt.Errorf("message is required")
	}
	createdAt := requestcontext.Now(ctx).UTC()
	var raw int64
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, payload, message_hash, notarization_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`,
		int64(msg.SenderID), int64(msg.ReceiverID), msg.Payload, msg.Hash.String(), string(StatePending), createdAt,
	).Scan(&raw)
	if err != nil {
		return 0, classify("persist message", err)
	}
	msg.ID = id.MessageID(raw)
	msg.State = StatePending
	msg.CreatedAt = createdAt
	return msg.ID, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, messageID id.MessageID) (*Message, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, int64(messageID))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, classify("find message", err)
	}
	return m, nil
}

func (s *PostgresStore) History(ctx context.Context, userID, counterpartyID id.UserID, limit, offset int) ([]*Message, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4
		) page
		ORDER BY created_at ASC, id ASC`,
		int64(userID), int64(counterpartyID), limit, offset,
	)
	if err != nil {
		return nil, classify("load history", err)
	}
	return collect(rows)
}

func (s *PostgresStore) UpdateNotarization(ctx context.Context, messageID id.MessageID, state NotarizationState, txRef string) error {
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockState(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if !CanTransition(current, state) {
			return fmt.Errorf("message %d %s -> %s: %w", messageID, current, state, sentinel.ErrInvalidState)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE messages
			SET notarization_state = $2, tx_ref = COALESCE(NULLIF($3, ''), tx_ref), updated_at = now()
			WHERE id = $1`,
			int64(messageID), string(state), txRef,
		)
		if err != nil {
			return classify("update notarization", err)
		}
		return nil
	})
	return classifyTx(err)
}

func (s *PostgresStore) ResetNotarization(ctx context.Context, messageID id.MessageID) error {
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockState(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if current != StateFailed {
			return fmt.Errorf("message %d is %s, not failed: %w", messageID, current, sentinel.ErrInvalidState)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE messages
			SET notarization_state = $2, notarization_attempts = 0, last_error = NULL, updated_at = now()
			WHERE id = $1`,
			int64(messageID), string(StatePending),
		)
		if err != nil {
			return classify("reset notarization", err)
		}
		return nil
	})
	return classifyTx(err)
}

func (s *PostgresStore) ClearTxRef(ctx context.Context, messageID id.MessageID) error {
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockState(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if current == StateConfirmed {
			return fmt.Errorf("message %d is confirmed: %w", messageID, sentinel.ErrInvalidState)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET tx_ref = NULL, updated_at = now() WHERE id = $1`, int64(messageID),
		); err != nil {
			return classify("clear tx ref", err)
		}
		return nil
	})
	return classifyTx(err)
}

func lockState(ctx context.Context, tx *sql.Tx, messageID id.MessageID) (NotarizationState, error) {
	var current string
	err := tx.QueryRowContext(ctx,
		`SELECT notarization_state FROM messages WHERE id = $1 FOR UPDATE`, int64(messageID),
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", classify("lock message", err)
	}
	return NotarizationState(current), nil
}

// classifyTx maps begin and commit failures; errors from inside the
// transaction are already classified.
func classifyTx(err error) error {
	if err != nil && !errors.Is(err, ErrStoreUnavailable) && postgres.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, messageID id.MessageID, attempts int, lastErr string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messages SET notarization_attempts = $2, last_error = NULLIF($3, ''), updated_at = now()
		WHERE id = $1`,
		int64(messageID), attempts, lastErr,
	)
	if err != nil {
		return classify("record attempt", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByState(ctx context.Context, states []NotarizationState, limit int) ([]*Message, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE notarization_state = ANY($1)
		ORDER BY id ASC
		LIMIT $2`,
		names, limit,
	)
	if err != nil {
		return nil, classify("list by state", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m                       Message
		rawID, sender, receiver int64
		hash, state             string
	)
	if err := row.Scan(&rawID, &sender, &receiver, &m.Payload, &hash, &state,
		&m.TxRef, &m.Attempts, &m.LastError, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ID = id.MessageID(rawID)
	m.SenderID = id.UserID(sender)
	m.ReceiverID = id.UserID(receiver)
	m.Hash = id.MessageHash(hash)
	m.State = NotarizationState(state)
	return &m, nil
}

func collect(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, classify("scan message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate messages", err)
	}
	return out, nil
}

func classify(op string, err error) error {
	switch {
	case postgres.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	case postgres.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: unknown participant: %w", op, sentinel.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
