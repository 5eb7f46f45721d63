package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// LogHandle — адрес записи в журнале пушей.
type LogHandle uint64

// LogRecord — всё, что нужно, чтобы заново добавить пуш после рестарта.
type LogRecord struct {
	ID             NotificationID
	Group          GroupID
	Type           GroupType
	Dialog         DialogID
	SettingsDialog DialogID
	Date           int32
	Silent         bool
	Payload        Payload
}

// LoggedRecord — запись журнала вместе с её адресом.
type LoggedRecord struct {
	Handle LogHandle
	Record LogRecord
}

// DurableLog — журнал временных уведомлений, переживающий рестарт.
type DurableLog interface {
	Append(ctx context.Context, rec LogRecord) (LogHandle, error)
	Rewrite(ctx context.Context, h LogHandle, rec LogRecord) error
	Erase(ctx context.Context, h LogHandle) error
	ReplayAll(ctx context.Context) ([]LoggedRecord, error)
}

type logRecordJSON struct {
	ID             NotificationID  `json:"notification_id"`
	Group          GroupID         `json:"group_id"`
	Type           GroupType       `json:"group_type"`
	Dialog         DialogID        `json:"dialog_id"`
	SettingsDialog DialogID        `json:"settings_dialog_id,omitempty"`
	Date           int32           `json:"date"`
	Silent         bool            `json:"silent,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// MarshalJSON кодирует запись вместе с видом содержимого.
func (r LogRecord) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(r.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(logRecordJSON{
		ID:             r.ID,
		Group:          r.Group,
		Type:           r.Type,
		Dialog:         r.Dialog,
		SettingsDialog: r.SettingsDialog,
		Date:           r.Date,
		Silent:         r.Silent,
		Payload:        payload,
	})
}

// UnmarshalJSON декодирует запись, восстанавливая конкретный тип содержимого.
func (r *LogRecord) UnmarshalJSON(data []byte) error {
	var raw logRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Payload)
	if err != nil {
		return fmt.Errorf("log record %d: %w", raw.ID, err)
	}
	*r = LogRecord{
		ID:             raw.ID,
		Group:          raw.Group,
		Type:           raw.Type,
		Dialog:         raw.Dialog,
		SettingsDialog: raw.SettingsDialog,
		Date:           raw.Date,
		Silent:         raw.Silent,
		Payload:        payload,
	}
	return nil
}

func (r LogRecord) request() AddRequest {
	return AddRequest{
		Group:          r.Group,
		Type:           r.Type,
		Dialog:         r.Dialog,
		SettingsDialog: r.SettingsDialog,
		Date:           r.Date,
		Silent:         r.Silent,
		ID:             r.ID,
		Payload:        r.Payload,
	}
}

func recordOf(req AddRequest) LogRecord {
	return LogRecord{
		ID:             req.ID,
		Group:          req.Group,
		Type:           req.Type,
		Dialog:         req.Dialog,
		SettingsDialog: req.SettingsDialog,
		Date:           req.Date,
		Silent:         req.Silent,
		Payload:        req.Payload,
	}
}

// tempRecord — живое временное уведомление и его запись в журнале.
type tempRecord struct {
	handle LogHandle
	rec    LogRecord
}

// AddPushNotification сначала пишет пуш в журнал, затем добавляет его как
// обычное уведомление. Сбой записи фатален для движка.
func (m *Manager) AddPushNotification(req AddRequest, done Completion) {
	defer m.settle()
	if m.journal == nil || req.Payload == nil || !req.Payload.IsTemporary() {
		m.addNotification(req, done)
		return
	}
	if !m.active() {
		done.resolve(nil)
		return
	}
	if done != nil {
		if prev, ok := m.pushWaiters[req.ID]; ok {
			prev.resolve(nil)
		}
		m.pushWaiters[req.ID] = done
	}
	m.inFlight++
	rec, journal := recordOf(req), m.journal
	m.submit(LaneJournal, func(ctx context.Context) func(*Manager) {
		h, err := journal.Append(ctx, rec)
		return func(m *Manager) { m.onPushLogged(req, h, err) }
	})
}

func (m *Manager) onPushLogged(req AddRequest, h LogHandle, err error) {
	defer m.settle()
	m.inFlight--
	done := m.pushWaiters[req.ID]
	delete(m.pushWaiters, req.ID)
	if m.closed {
		// Запись осталась в журнале и вернётся при следующем воспроизведении.
		done.resolve(ErrClosed)
		return
	}
	if err != nil {
		err = fmt.Errorf("%w: append notification %d: %v", ErrJournal, req.ID, err)
		m.fail(err)
		done.resolve(err)
		return
	}
	m.temporary[req.ID] = tempRecord{handle: h, rec: recordOf(req)}
	m.addNotification(req, done)
}

// replay поднимает журнал и заново добавляет пережившие рестарт пуши.
func (m *Manager) replay() {
	m.inFlight++
	journal := m.journal
	m.submit(LaneJournal, func(ctx context.Context) func(*Manager) {
		records, err := journal.ReplayAll(ctx)
		return func(m *Manager) { m.onReplayed(records, err) }
	})
}

func (m *Manager) onReplayed(records []LoggedRecord, err error) {
	defer m.settle()
	m.inFlight--
	if err != nil {
		m.fail(fmt.Errorf("%w: replay: %v", ErrJournal, err))
		return
	}
	slices.SortFunc(records, func(a, b LoggedRecord) int { return int(a.Record.ID) - int(b.Record.ID) })
	logger.Infof("Journal: replaying %d push notifications", len(records))
	for _, lr := range records {
		m.applyReplayed(lr)
	}
}

// applyReplayed идемпотентен: уже живое уведомление не добавляется второй раз.
func (m *Manager) applyReplayed(lr LoggedRecord) {
	rec := lr.Record
	if known, ok := m.temporary[rec.ID]; ok && known.handle != lr.Handle {
		logger.Warn("Journal: duplicated record", zap.Int32("notification_id", int32(rec.ID)))
		m.eraseRecord(rec.ID, lr.Handle)
		return
	}
	if rec.Payload == nil || !rec.Payload.IsTemporary() {
		logger.Warn("Journal: record without temporary payload", zap.Int32("notification_id", int32(rec.ID)))
		m.eraseRecord(rec.ID, lr.Handle)
		return
	}
	m.temporary[rec.ID] = tempRecord{handle: lr.Handle, rec: rec}

	if g := m.index.get(rec.Group); g != nil {
		if i := g.pendingIndex(rec.ID); i >= 0 {
			if g.pending[i].Payload != rec.Payload {
				g.pending[i].Payload = rec.Payload
			}
			return
		}
		if i := g.notificationIndex(rec.ID); i >= 0 {
			if g.notifications[i].Payload != rec.Payload {
				m.EditNotification(rec.Group, rec.ID, rec.Payload, nil)
			}
			return
		}
	}
	m.addNotification(rec.request(), nil)
}

func (m *Manager) eraseRecord(id NotificationID, h LogHandle) {
	if m.journal == nil {
		return
	}
	journal := m.journal
	m.submit(LaneJournal, func(ctx context.Context) func(*Manager) {
		err := journal.Erase(ctx, h)
		if err != nil {
			logger.Error("Journal: erase failed", zap.Int32("notification_id", int32(id)), zap.Error(err))
		}
		return func(m *Manager) {
			if err != nil {
				m.fail(fmt.Errorf("%w: erase notification %d: %v", ErrJournal, id, err))
			}
		}
	})
}

// rewriteRecord переписывает запись временного уведомления после правки.
func (m *Manager) rewriteRecord(id NotificationID, payload Payload) {
	tr, ok := m.temporary[id]
	if !ok || m.journal == nil {
		return
	}
	tr.rec.Payload = payload
	m.temporary[id] = tr
	journal, h, rec := m.journal, tr.handle, tr.rec
	m.submit(LaneJournal, func(ctx context.Context) func(*Manager) {
		err := journal.Rewrite(ctx, h, rec)
		return func(m *Manager) {
			if err != nil {
				m.fail(fmt.Errorf("%w: rewrite notification %d: %v", ErrJournal, id, err))
			}
		}
	})
}
