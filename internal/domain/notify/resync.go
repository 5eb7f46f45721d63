package notify

import "chat-notifications/internal/infra/logger"

// BeforeResync подавляет сбросы очередей до AfterResync.
func (m *Manager) BeforeResync() {
	defer m.settle()
	m.resyncing = true
	logger.Debug("Notify: global resync started")
}

// AfterResync снимает подавление. Временные уведомления, которые синхронизация
// не подтвердила, уничтожаются; очереди сбрасываются с минимальной задержкой.
func (m *Manager) AfterResync() {
	defer m.settle()
	if !m.resyncing {
		return
	}
	m.resyncing = false
	logger.Debug("Notify: global resync finished")
	for _, g := range m.index.ordered() {
		if _, busy := m.groupResync[g.key.Group]; busy || m.index.get(g.key.Group) != g {
			continue
		}
		m.removeTemporaries(g, false)
	}
	m.armResumed()
}

// BeforeGroupResync подавляет сброс очереди одной группы.
func (m *Manager) BeforeGroupResync(id GroupID) {
	defer m.settle()
	m.groupResync[id] = struct{}{}
}

// AfterGroupResync снимает подавление с группы.
func (m *Manager) AfterGroupResync(id GroupID) {
	defer m.settle()
	if _, ok := m.groupResync[id]; !ok {
		return
	}
	delete(m.groupResync, id)
	if len(m.queues[id]) > 0 && !m.suppressed(id) {
		m.flushTimers.arm(id, m.clock.Now().Add(MinNotificationDelay))
	}
}

func (m *Manager) armResumed() {
	at := m.clock.Now().Add(MinNotificationDelay)
	for id, q := range m.queues {
		if len(q) > 0 && !m.suppressed(id) {
			m.flushTimers.arm(id, at)
		}
	}
}
