package notify

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// AddRequest — входящее уведомление.
type AddRequest struct {
	Group GroupID
	Type  GroupType
	// Dialog — диалог, к которому относится группа.
	Dialog DialogID
	// SettingsDialog — диалог, чьи настройки звука применяются; 0 — Dialog.
	SettingsDialog DialogID
	Date           int32
	Silent         bool
	// MinDelay — нижняя граница задержки, которую задаёт вызывающий.
	MinDelay time.Duration
	ID       NotificationID
	Payload  Payload
}

// AddNotification ставит уведомление в отложенные группы. done завершается,
// когда уведомление отражено в UI или уничтожено.
func (m *Manager) AddNotification(req AddRequest, done Completion) {
	defer m.settle()
	m.addNotification(req, done)
}

func (m *Manager) addNotification(req AddRequest, done Completion) {
	reject := func(reason string) {
		logger.Debug("Notify: add skipped",
			zap.String("reason", reason),
			zap.Int32("group_id", int32(req.Group)),
			zap.Int32("notification_id", int32(req.ID)))
		if !m.knows(req.Group, req.ID) {
			m.released(req.ID)
		}
		done.resolve(nil)
	}
	if !m.active() || m.windowSize() == 0 {
		reject("disabled")
		return
	}
	if req.Payload == nil || req.ID <= 0 || req.Group <= 0 {
		logger.Error("Notify: invalid add request",
			zap.Int32("group_id", int32(req.Group)), zap.Int32("notification_id", int32(req.ID)))
		reject("invalid")
		return
	}

	g := m.index.get(req.Group)
	if g != nil && g.typ != req.Type {
		logger.Error("Notify: group type mismatch",
			zap.Int32("group_id", int32(req.Group)),
			zap.Stringer("have", g.typ), zap.Stringer("want", req.Type))
		reject("type mismatch")
		return
	}
	if g == nil {
		g = m.materialize(req.Group, req.Type, req.Dialog)
	}

	permanent := !req.Payload.IsTemporary()
	maxID, maxMsg := g.maxIDs(permanent)
	msg := req.Payload.MessageID()
	if req.ID <= maxID || (msg != 0 && maxMsg != 0 && msg <= maxMsg) {
		logger.Error("Notify: out-of-order notification rejected",
			zap.Int32("group_id", int32(req.Group)),
			zap.Int32("notification_id", int32(req.ID)),
			zap.Int32("max_notification_id", int32(maxID)),
			zap.Int64("message_id", int64(msg)),
			zap.Int64("max_message_id", int64(maxMsg)))
		reject("out of order")
		m.maybeDelete(g)
		return
	}
	if permanent {
		m.removeTemporaries(g, true)
	}

	settings := req.SettingsDialog
	if settings == 0 {
		settings = req.Dialog
	}
	n := Notification{ID: req.ID, Date: req.Date, Silent: req.Silent, Payload: req.Payload}
	now := m.clock.Now()
	at := now.Add(m.policy.effective(req.Dialog, n, req.MinDelay, now))

	if len(g.pending) == 0 {
		m.delayedGroups++
		g.flushAt = time.Time{}
	}
	g.pending = append(g.pending, pendingNotification{Notification: n, settingsDialog: settings, flushAt: at.UnixNano()})
	if g.flushAt.IsZero() || at.Before(g.flushAt) {
		g.flushAt = at
		m.promoteTimers.armEarlier(g.key.Group, at)
	}
	if done != nil {
		m.waiters[req.ID] = done
	}
	if logger.IsDebugEnabled() {
		logger.Debugf("Notify: notification %d queued in group %d, promotion at %s", req.ID, req.Group, at.Format(time.RFC3339Nano))
	}
}

// knows — id уже живёт в группе; отказ в повторном добавлении его не трогает.
func (m *Manager) knows(groupID GroupID, id NotificationID) bool {
	g := m.index.get(groupID)
	return g != nil && (g.pendingIndex(id) >= 0 || g.notificationIndex(id) >= 0)
}

// materialize заводит заглушку для неизвестной группы. Метаданные обычной
// группы догружаются из истории асинхронно.
func (m *Manager) materialize(id GroupID, typ GroupType, dialog DialogID) *group {
	g := &group{key: GroupKey{Group: id, Dialog: dialog}, typ: typ}
	m.index.upsert(g)
	if typ == GroupCalls || m.history == nil {
		g.metaReady, g.loaded = true, true
		return g
	}
	m.seq++
	g.metaToken = m.seq
	token, history := m.seq, m.history
	m.submit(LaneHistory, func(ctx context.Context) func(*Manager) {
		stored, err := history.LoadGroup(ctx, id)
		return func(m *Manager) { m.onGroupLoaded(id, token, stored, err) }
	})
	return g
}

// promote переносит отложенные уведомления группы в кэш.
func (m *Manager) promote(g *group) {
	if len(g.pending) == 0 {
		return
	}
	pending := g.pending
	m.clearPending(g)

	// Сначала группа встаёт на итоговую позицию: если она входит в окно,
	// UI тихо получает старое содержимое, а звук остаётся за новыми.
	before := m.index.window(m.windowSize())
	date := g.key.Date
	for _, p := range pending {
		date = max(date, p.Date)
	}
	m.index.reposition(g, date)
	m.commit(before, g, silentAttrs)

	for start := 0; start < len(pending); {
		end := start + 1
		for end < len(pending) &&
			pending[end].settingsDialog == pending[start].settingsDialog &&
			pending[end].Silent == pending[start].Silent {
			end++
		}
		for _, p := range pending[start:end] {
			g.notifications = append(g.notifications, p.Notification)
		}
		g.totalCount += int32(end - start)
		m.sync(g, attrs{settings: pending[start].settingsDialog, silent: pending[start].Silent})
		start = end
	}

	for _, p := range pending {
		if !slices.Contains(g.shown, p.ID) {
			m.resolveWaiter(p.ID, nil)
		}
	}
	m.evict(g)
}

// FlushGroup промоутит группу, не дожидаясь таймера, и сразу сбрасывает её очередь.
func (m *Manager) FlushGroup(id GroupID) {
	defer m.settle()
	if g := m.index.get(id); g != nil {
		m.promote(g)
	}
	m.flushUpdates(id, false)
}

// FlushAll промоутит и сбрасывает всё.
func (m *Manager) FlushAll() {
	defer m.settle()
	m.flushAll(false)
}

// EditNotification меняет содержимое уведомления, не меняя его идентичность.
func (m *Manager) EditNotification(groupID GroupID, id NotificationID, payload Payload, done Completion) {
	defer m.settle()
	defer done.resolve(nil)
	if !m.active() || payload == nil {
		return
	}
	g := m.index.get(groupID)
	if g == nil {
		return
	}
	if i := g.pendingIndex(id); i >= 0 {
		if !m.editAllowed(g, g.pending[i].Payload, payload, id) {
			return
		}
		g.pending[i].Payload = payload
		m.rewriteRecord(id, payload)
		return
	}
	i := g.notificationIndex(id)
	if i < 0 {
		return
	}
	if !m.editAllowed(g, g.notifications[i].Payload, payload, id) {
		return
	}
	g.notifications[i].Payload = payload
	m.rewriteRecord(id, payload)
	if slices.Contains(g.shown, id) {
		m.enqueue(Update{
			Kind:         UpdateEdit,
			Group:        g.key.Group,
			Type:         g.typ,
			Dialog:       g.key.Dialog,
			Notification: g.notifications[i],
		})
	}
}

func (m *Manager) editAllowed(g *group, old, next Payload, id NotificationID) bool {
	if samePayloadIdentity(old, next) {
		return true
	}
	logger.Error("Notify: edit changes notification identity",
		zap.Int32("group_id", int32(g.key.Group)), zap.Int32("notification_id", int32(id)),
		zap.String("old_kind", string(old.Kind())), zap.String("new_kind", string(next.Kind())))
	return false
}

// RemoveNotification уничтожает уведомление. permanent — оно удалено навсегда
// и уменьшает общий счётчик группы.
func (m *Manager) RemoveNotification(groupID GroupID, id NotificationID, permanent bool, done Completion) {
	defer m.settle()
	defer done.resolve(nil)
	if m.closed {
		return
	}
	m.removeNotification(groupID, id, permanent)
}

func (m *Manager) removeNotification(groupID GroupID, id NotificationID, permanent bool) {
	g := m.index.get(groupID)
	if g == nil {
		m.released(id)
		return
	}
	if i := g.pendingIndex(id); i >= 0 {
		if len(g.pending) == 1 {
			m.clearPending(g)
		} else {
			g.pending = slices.Delete(g.pending, i, i+1)
		}
		m.released(id)
		m.maybeDelete(g)
		return
	}

	before := m.index.window(m.windowSize())
	if permanent {
		if g.totalCount > 0 {
			g.totalCount--
		} else {
			logger.Warn("Notify: total count underflow",
				zap.Int32("group_id", int32(groupID)), zap.Int32("notification_id", int32(id)))
		}
	}
	if i := g.notificationIndex(id); i >= 0 {
		g.notifications = slices.Delete(g.notifications, i, i+1)
	}
	m.released(id)
	m.index.reposition(g, g.currentDate())
	m.commit(before, g, silentAttrs)
	m.ensureCache(g)
	m.maybeDelete(g)
}

// RemoveGroupUpTo уничтожает всё в группе до maxID и maxMessage включительно
// (нулевая граница не участвует). newTotal >= 0 задаёт новый общий счётчик.
func (m *Manager) RemoveGroupUpTo(groupID GroupID, maxID NotificationID, maxMessage MessageID, newTotal int32, done Completion) {
	defer m.settle()
	defer done.resolve(nil)
	if m.closed || (maxID <= 0 && maxMessage <= 0) {
		return
	}
	g := m.index.get(groupID)
	if g == nil {
		return
	}
	matches := func(n Notification) bool {
		if maxID > 0 && n.ID <= maxID {
			return true
		}
		msg := n.Payload.MessageID()
		return maxMessage > 0 && msg != 0 && msg <= maxMessage
	}

	if len(g.pending) > 0 {
		kept := g.pending[:0:0]
		for _, p := range g.pending {
			if matches(p.Notification) {
				m.released(p.ID)
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			m.clearPending(g)
		} else {
			g.pending = kept
		}
	}

	before := m.index.window(m.windowSize())
	removed := int32(0)
	kept := g.notifications[:0:0]
	for _, n := range g.notifications {
		if matches(n) {
			removed++
			m.released(n.ID)
			continue
		}
		kept = append(kept, n)
	}
	g.notifications = kept
	if newTotal >= 0 {
		g.totalCount = max(newTotal, int32(len(g.notifications)))
	} else {
		g.totalCount = max(g.totalCount-removed, int32(len(g.notifications)))
	}
	logger.Debugf("Notify: removed %d notifications from group %d up to %d/%d", removed, groupID, maxID, maxMessage)
	m.index.reposition(g, g.currentDate())
	m.commit(before, g, silentAttrs)
	m.ensureCache(g)
	m.maybeDelete(g)
}

// removeTemporaries уничтожает временные уведомления группы: постоянное
// уведомление их вытесняет. keep оставляет опустевшую группу под входящее добавление.
func (m *Manager) removeTemporaries(g *group, keep bool) {
	if len(g.pending) > 0 {
		kept := g.pending[:0:0]
		for _, p := range g.pending {
			if p.Payload.IsTemporary() {
				m.released(p.ID)
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			m.clearPending(g)
		} else {
			g.pending = kept
		}
	}

	if !slices.ContainsFunc(g.notifications, func(n Notification) bool { return n.Payload.IsTemporary() }) {
		if !keep {
			m.maybeDelete(g)
		}
		return
	}
	before := m.index.window(m.windowSize())
	kept := g.notifications[:0:0]
	for _, n := range g.notifications {
		if n.Payload.IsTemporary() {
			if g.totalCount > 0 {
				g.totalCount--
			}
			m.released(n.ID)
			continue
		}
		kept = append(kept, n)
	}
	g.notifications = kept
	m.index.reposition(g, g.currentDate())
	m.commit(before, g, silentAttrs)
	m.ensureCache(g)
	if !keep {
		m.maybeDelete(g)
	}
}
