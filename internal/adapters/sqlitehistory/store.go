// Package sqlitehistory — история уведомлений в SQLite (modernc.org/sqlite, без cgo).
//
// Движок читает отсюда группы и уведомления, которые были показаны до рестарта
// или вытеснены из памяти. Писатель (SaveGroup/SaveNotification) обновляет
// счётчик и дату группы в той же транзакции, что и само уведомление.
package sqlitehistory

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/logger"
	"chat-notifications/internal/infra/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notify_groups (
	group_id    INTEGER PRIMARY KEY,
	dialog_id   INTEGER NOT NULL,
	group_type  INTEGER NOT NULL,
	last_date   INTEGER NOT NULL DEFAULT 0,
	total_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS notify_groups_order
	ON notify_groups (last_date DESC, dialog_id DESC, group_id DESC);

CREATE TABLE IF NOT EXISTS notify_notifications (
	group_id        INTEGER NOT NULL,
	notification_id INTEGER NOT NULL,
	message_id      INTEGER NOT NULL DEFAULT 0,
	date            INTEGER NOT NULL,
	silent          INTEGER NOT NULL DEFAULT 0,
	payload         TEXT    NOT NULL,
	PRIMARY KEY (group_id, notification_id)
);
`

// Store реализует notify.HistoryStore.
type Store struct {
	db *sql.DB
}

var _ notify.HistoryStore = (*Store)(nil)

// Open открывает базу и применяет схему.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlitehistory: db path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "sqlitehistory: ensure dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitehistory: open db")
	}
	// SQLite лучше переносит одного писателя.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err = s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "sqlitehistory: set busy timeout")
	}
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Warnf("History: WAL is not available: %v", err)
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "sqlitehistory: create schema")
	}
	return nil
}

// Close закрывает соединение.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PageGroups возвращает непустые группы строго после after в порядке
// notify.GroupKey.Less: дата, диалог и группа по убыванию.
func (s *Store) PageGroups(ctx context.Context, after notify.GroupKey, limit int) ([]notify.StoredGroup, error) {
	const base = `SELECT group_id, dialog_id, group_type, last_date, total_count
		FROM notify_groups WHERE total_count > 0 AND last_date > 0`
	const order = ` ORDER BY last_date DESC, dialog_id DESC, group_id DESC LIMIT ?`

	var (
		rows *sql.Rows
		err  error
	)
	if after.Group == 0 {
		rows, err = s.db.QueryContext(ctx, base+order, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` AND (last_date < ?
			OR (last_date = ? AND dialog_id < ?)
			OR (last_date = ? AND dialog_id = ? AND group_id < ?))`+order,
			after.Date, after.Date, after.Dialog, after.Date, after.Dialog, after.Group, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "page groups")
	}
	defer rows.Close()

	var out []notify.StoredGroup
	for rows.Next() {
		var g notify.StoredGroup
		if err = rows.Scan(&g.Key.Group, &g.Key.Dialog, &g.Type, &g.Key.Date, &g.TotalCount); err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		out = append(out, g)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate groups")
	}
	return out, nil
}

// PageNotifications возвращает уведомления группы старше before, от новых к старым.
// Строки с нечитаемым содержимым пропускаются.
func (s *Store) PageNotifications(ctx context.Context, group notify.GroupID, before notify.NotificationID, beforeMessage notify.MessageID, limit int) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT notification_id, date, silent, payload
		FROM notify_notifications
		WHERE group_id = ?
			AND (? = 0 OR notification_id < ?)
			AND (? = 0 OR message_id = 0 OR message_id < ?)
		ORDER BY notification_id DESC LIMIT ?`,
		group, before, before, beforeMessage, beforeMessage, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "page notifications of group %d", group)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n   notify.Notification
			raw string
		)
		if err = rows.Scan(&n.ID, &n.Date, &n.Silent, &raw); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		p, dErr := notify.DecodePayload([]byte(raw))
		if dErr != nil {
			logger.Warnf("History: skip notification %d of group %d: %v", n.ID, group, dErr)
			continue
		}
		n.Payload = p
		out = append(out, n)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate notifications")
	}
	return out, nil
}

// LoadGroup возвращает метаданные группы или notify.ErrGroupNotFound.
func (s *Store) LoadGroup(ctx context.Context, group notify.GroupID) (notify.StoredGroup, error) {
	var g notify.StoredGroup
	err := s.db.QueryRowContext(ctx, `SELECT group_id, dialog_id, group_type, last_date, total_count
		FROM notify_groups WHERE group_id = ?`, group).
		Scan(&g.Key.Group, &g.Key.Dialog, &g.Type, &g.Key.Date, &g.TotalCount)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.StoredGroup{}, notify.ErrGroupNotFound
	}
	if err != nil {
		return notify.StoredGroup{}, errors.Wrapf(err, "load group %d", group)
	}
	return g, nil
}

// SaveGroup создаёт или перезаписывает метаданные группы.
func (s *Store) SaveGroup(ctx context.Context, g notify.StoredGroup) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notify_groups(group_id, dialog_id, group_type, last_date, total_count)
		VALUES(?,?,?,?,?)
		ON CONFLICT(group_id) DO UPDATE SET
			dialog_id = excluded.dialog_id,
			group_type = excluded.group_type,
			last_date = excluded.last_date,
			total_count = excluded.total_count`,
		g.Key.Group, g.Key.Dialog, g.Type, g.Key.Date, g.TotalCount)
	if err != nil {
		return errors.Wrapf(err, "save group %d", g.Key.Group)
	}
	return nil
}

// SetTotalCount перезаписывает счётчик существующей группы; неизвестная группа игнорируется.
func (s *Store) SetTotalCount(ctx context.Context, group notify.GroupID, total int32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notify_groups SET total_count = ? WHERE group_id = ?`, total, group)
	if err != nil {
		return errors.Wrapf(err, "set total count of group %d", group)
	}
	return nil
}

// SaveNotification добавляет уведомление в группу и продвигает её дату и счётчик.
// Повторная запись того же id только обновляет содержимое.
func (s *Store) SaveNotification(ctx context.Context, key notify.GroupKey, typ notify.GroupType, n notify.Notification) error {
	payload, err := notify.EncodePayload(n.Payload)
	if err != nil {
		return errors.Wrapf(err, "encode notification %d", n.ID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO notify_notifications(group_id, notification_id, message_id, date, silent, payload)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(group_id, notification_id) DO NOTHING`,
		key.Group, n.ID, n.Payload.MessageID(), n.Date, n.Silent, string(payload))
	if err != nil {
		return errors.Wrapf(err, "insert notification %d", n.ID)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if inserted == 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE notify_notifications SET payload = ?
			WHERE group_id = ? AND notification_id = ?`, string(payload), key.Group, n.ID); err != nil {
			return errors.Wrapf(err, "update notification %d", n.ID)
		}
		return commit(tx)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO notify_groups(group_id, dialog_id, group_type, last_date, total_count)
		VALUES(?,?,?,?,1)
		ON CONFLICT(group_id) DO UPDATE SET
			last_date = max(last_date, excluded.last_date),
			total_count = total_count + 1`,
		key.Group, key.Dialog, typ, n.Date); err != nil {
		return errors.Wrapf(err, "bump group %d", key.Group)
	}
	return commit(tx)
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}
