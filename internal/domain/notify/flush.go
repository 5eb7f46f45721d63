package notify

import (
	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// suppressed — сброс очереди группы отложен ресинхронизацией.
func (m *Manager) suppressed(id GroupID) bool {
	if m.resyncing {
		return true
	}
	_, ok := m.groupResync[id]
	return ok
}

// enqueue кладёт апдейт в очередь группы и взводит её сброс.
func (m *Manager) enqueue(u Update) {
	id := u.Group
	m.queues[id] = append(m.queues[id], u)
	delay := MinUpdateDelay
	if m.suppressed(id) {
		delay = MaxUpdateDelay
	}
	m.flushTimers.armEarlier(id, m.clock.Now().Add(delay))
}

// flushUpdates сжимает очередь группы и отдаёт её потребителю. Без force
// подавленная ресинхронизацией очередь остаётся на месте.
func (m *Manager) flushUpdates(id GroupID, force bool) {
	queue := m.queues[id]
	if len(queue) == 0 {
		delete(m.queues, id)
		m.flushTimers.cancel(id)
		return
	}
	if !force && m.suppressed(id) {
		m.flushTimers.arm(id, m.clock.Now().Add(MaxUpdateDelay))
		return
	}
	delete(m.queues, id)
	m.flushTimers.cancel(id)

	g := m.index.get(id)
	hidden := g == nil || !m.index.visible(g, m.windowSize())
	out := compact(queue, hidden, g == nil || g.key.Date == 0)
	if len(out) > 0 {
		if logger.IsDebugEnabled() {
			logger.Debug("Notify: flushing updates",
				zap.Int32("group_id", int32(id)), zap.Int("queued", len(queue)), zap.Int("sent", len(out)))
		}
		m.consumer.ApplyUpdates(id, out)
	}
	for _, u := range queue {
		for _, n := range u.Added {
			m.resolveWaiter(n.ID, nil)
		}
	}
}
