// Package boltlog — журнал пушей поверх bbolt.
//
// Каждая запись лежит в одном бакете под ключом-последовательностью
// (big-endian uint64), значение — JSON notify.LogRecord. Ключ и есть
// notify.LogHandle: он выдаётся NextSequence и никогда не переиспользуется.
package boltlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/logger"
	"chat-notifications/internal/infra/storage"
)

const (
	dbFileMode    = 0o600
	dbOpenTimeout = time.Second
)

var recordsBucket = []byte("notify_records")

// ErrRecordNotFound — записи с таким адресом нет.
var ErrRecordNotFound = errors.New("boltlog: record not found")

// Log реализует notify.DurableLog.
type Log struct {
	db *bbolt.DB
}

var _ notify.DurableLog = (*Log)(nil)

// Open открывает (или создаёт) файл журнала и гарантирует наличие бакета.
func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("boltlog: db path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "boltlog: ensure dir")
	}
	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "boltlog: open db")
	}
	if err = db.Update(func(tx *bbolt.Tx) error {
		_, cErr := tx.CreateBucketIfNotExists(recordsBucket)
		return cErr
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "boltlog: create bucket")
	}
	return &Log{db: db}, nil
}

// Close закрывает файл базы данных.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append сохраняет запись и возвращает её адрес. Запись видна после коммита транзакции.
func (l *Log) Append(ctx context.Context, rec notify.LogRecord) (notify.LogHandle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, errors.Wrapf(err, "encode record %d", rec.ID)
	}
	var h notify.LogHandle
	err = l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		seq, sErr := b.NextSequence()
		if sErr != nil {
			return sErr
		}
		h = notify.LogHandle(seq)
		return b.Put(handleKey(h), data)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "append record %d", rec.ID)
	}
	return h, nil
}

// Rewrite заменяет содержимое существующей записи.
func (l *Log) Rewrite(ctx context.Context, h notify.LogHandle, rec notify.LogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "encode record %d", rec.ID)
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		key := handleKey(h)
		if b.Get(key) == nil {
			return errors.Wrapf(ErrRecordNotFound, "rewrite %d", h)
		}
		return b.Put(key, data)
	})
}

// Erase удаляет запись. Отсутствие записи ошибкой не считается.
func (l *Log) Erase(ctx context.Context, h notify.LogHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete(handleKey(h))
	})
}

// ReplayAll возвращает все записи в порядке адресов. Нечитаемые записи
// удаляются с предупреждением: повторить их всё равно нельзя.
func (l *Log) ReplayAll(ctx context.Context) ([]notify.LoggedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out    []notify.LoggedRecord
		broken [][]byte
	)
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			h := notify.LogHandle(binary.BigEndian.Uint64(k))
			var rec notify.LogRecord
			if dErr := json.Unmarshal(v, &rec); dErr != nil {
				logger.Warn("Journal: dropping unreadable record", zap.Uint64("handle", uint64(h)), zap.Error(dErr))
				broken = append(broken, append([]byte(nil), k...))
				return nil
			}
			out = append(out, notify.LoggedRecord{Handle: h, Record: rec})
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "replay records")
	}
	if len(broken) > 0 {
		if err = l.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(recordsBucket)
			for _, k := range broken {
				if dErr := b.Delete(k); dErr != nil {
					return dErr
				}
			}
			return nil
		}); err != nil {
			return nil, errors.Wrap(err, "drop unreadable records")
		}
	}
	logger.Debugf("Journal: replayed %d records", len(out))
	return out, nil
}

func handleKey(h notify.LogHandle) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(h))
	return key
}
