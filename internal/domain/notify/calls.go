package notify

import (
	"slices"

	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// activeCall — звонок, для которого показано уведомление.
type activeCall struct {
	callID int64
	id     NotificationID
}

// reservationPool — группы, навсегда закреплённые за звонками. Группа
// привязывается к диалогу, пока в ней есть уведомления, и затем возвращается в пул.
type reservationPool struct {
	reserved []GroupID
	free     []GroupID
	byDialog map[DialogID]GroupID
}

func newReservationPool(reserved []GroupID) *reservationPool {
	return &reservationPool{
		reserved: slices.Clone(reserved),
		free:     slices.Clone(reserved),
		byDialog: make(map[DialogID]GroupID),
	}
}

// acquire возвращает группу диалога, при необходимости беря её из пула или
// резервируя новую через reserve.
func (p *reservationPool) acquire(dialog DialogID, reserve func() (GroupID, error)) (GroupID, error) {
	if id, ok := p.byDialog[dialog]; ok {
		return id, nil
	}
	if len(p.free) > 0 {
		id := p.free[0]
		p.free = p.free[1:]
		p.byDialog[dialog] = id
		return id, nil
	}
	if len(p.reserved) >= MaxCallGroups {
		return 0, ErrTooManyCalls
	}
	id, err := reserve()
	if err != nil {
		return 0, err
	}
	p.reserved = append(p.reserved, id)
	p.byDialog[dialog] = id
	return id, nil
}

func (p *reservationPool) release(dialog DialogID) {
	id, ok := p.byDialog[dialog]
	if !ok {
		return
	}
	delete(p.byDialog, dialog)
	p.free = append(p.free, id)
	slices.Sort(p.free)
}

func (p *reservationPool) isReserved(id GroupID) bool {
	return slices.Contains(p.reserved, id)
}

// AddCall показывает уведомление о входящем звонке. Дата сдвинута в будущее,
// чтобы группа звонка стояла выше групп сообщений.
func (m *Manager) AddCall(dialog DialogID, callID int64, done Completion) {
	defer m.settle()
	if !m.active() || m.windowSize() == 0 {
		done.resolve(nil)
		return
	}
	calls := m.activeCalls[dialog]
	if len(calls) >= MaxCallNotifications {
		logger.Warn("Notify: too many active calls in dialog", zap.Int64("dialog_id", int64(dialog)))
		done.resolve(ErrTooManyCalls)
		return
	}
	if slices.ContainsFunc(calls, func(c activeCall) bool { return c.callID == callID }) {
		done.resolve(nil)
		return
	}
	groupID, err := m.calls.acquire(dialog, m.ids.reserveCallGroup)
	if err != nil {
		logger.Warn("Notify: no call group available", zap.Int64("dialog_id", int64(dialog)), zap.Error(err))
		done.resolve(err)
		return
	}
	id, err := m.ids.NextNotificationID()
	if err != nil {
		logger.Error("Notify: failed to allocate call notification", zap.Error(err))
		if len(calls) == 0 {
			m.releaseIdleCallGroup(dialog, groupID)
		}
		done.resolve(err)
		return
	}
	m.activeCalls[dialog] = append(calls, activeCall{callID: callID, id: id})
	m.addNotification(AddRequest{
		Group:          groupID,
		Type:           GroupCalls,
		Dialog:         dialog,
		SettingsDialog: dialog,
		Date:           int32(m.clock.Now().Unix()) + callDateBoost,
		ID:             id,
		Payload:        CallPayload{CallID: callID},
	}, done)
}

// RemoveCall убирает уведомление о звонке. Опустевшая группа возвращается в пул.
func (m *Manager) RemoveCall(dialog DialogID, callID int64, done Completion) {
	defer m.settle()
	defer done.resolve(nil)
	if m.closed {
		return
	}
	calls := m.activeCalls[dialog]
	i := slices.IndexFunc(calls, func(c activeCall) bool { return c.callID == callID })
	if i < 0 {
		return
	}
	id := calls[i].id
	calls = slices.Delete(calls, i, i+1)
	if len(calls) == 0 {
		delete(m.activeCalls, dialog)
	} else {
		m.activeCalls[dialog] = calls
	}
	groupID, ok := m.calls.byDialog[dialog]
	if !ok {
		return
	}
	m.removeNotification(groupID, id, true)
	if len(calls) == 0 {
		m.releaseIdleCallGroup(dialog, groupID)
	}
}

// releaseIdleCallGroup возвращает группу в пул, если её уже нет в индексе.
func (m *Manager) releaseIdleCallGroup(dialog DialogID, groupID GroupID) {
	if m.index.get(groupID) == nil {
		m.calls.release(dialog)
	}
}
