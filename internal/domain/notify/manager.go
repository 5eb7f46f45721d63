package notify

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/juju/clock"

	"chat-notifications/internal/infra/logger"
)

var (
	// ErrClosed — движок остановлен; операция завершена без эффекта.
	ErrClosed = errors.New("notify: engine closed")
	// ErrJournal — сбой журнала пушей; движок дальше работать не может.
	ErrJournal = errors.New("notify: durable log failure")
	// ErrGroupNotFound — история не знает такой группы.
	ErrGroupNotFound = errors.New("notify: group not found")
	// ErrTooManyCalls — в диалоге или в пуле звонков нет места.
	ErrTooManyCalls = errors.New("notify: too many active calls")
)

// Completion — одноразовый хэндл завершения операции. Получает ровно одно
// значение и закрывается.
type Completion chan error

// NewCompletion создаёт буферизованный хэндл.
func NewCompletion() Completion { return make(Completion, 1) }

func (c Completion) resolve(err error) {
	if c == nil {
		return
	}
	c <- err
	close(c)
}

// Lane — очередь фоновых запросов. Запросы одной очереди выполняются строго по порядку.
type Lane uint8

const (
	LaneJournal Lane = iota + 1
	LaneHistory
)

// Job выполняется вне цикла движка; возвращённое завершение применяется в цикле.
type Job func(ctx context.Context) func(*Manager)

// Executor исполняет фоновые запросы и возвращает их завершения в цикл движка.
// Submit вызывается из цикла и не должен блокироваться.
type Executor interface {
	Submit(lane Lane, job Job)
}

// StoredGroup — группа, как её видит история.
type StoredGroup struct {
	Key        GroupKey
	Type       GroupType
	TotalCount int32
}

// HistoryStore — постраничное чтение истории уведомлений.
type HistoryStore interface {
	// PageGroups возвращает группы строго после after в порядке GroupKey.Less;
	// after с нулевым Group означает «с начала».
	PageGroups(ctx context.Context, after GroupKey, limit int) ([]StoredGroup, error)
	// PageNotifications возвращает уведомления группы строго старше before
	// (и beforeMessage, если он задан), от новых к старым; нулевые границы — с самого нового.
	PageNotifications(ctx context.Context, group GroupID, before NotificationID, beforeMessage MessageID, limit int) ([]Notification, error)
	// LoadGroup возвращает метаданные группы или ErrGroupNotFound.
	LoadGroup(ctx context.Context, group GroupID) (StoredGroup, error)
}

// Settings — значения, которые приходят из конфигурации.
type Settings struct {
	MaxGroupCount int
	MaxGroupSize  int
	Delays        Delays
}

// DefaultSettings возвращает значения по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxGroupCount: DefaultMaxGroupCount,
		MaxGroupSize:  DefaultMaxGroupSize,
		Delays:        DefaultDelays(),
	}
}

// Options — зависимости Manager.
type Options struct {
	Clock    clock.Clock
	History  HistoryStore
	Journal  DurableLog
	Consumer Consumer
	Executor Executor
	IDs      *Allocator
	Settings Settings
}

// Manager — состояние движка. Не потокобезопасен: все методы вызываются из
// одного последовательного контекста (см. Service).
type Manager struct {
	clock    clock.Clock
	history  HistoryStore
	journal  DurableLog
	consumer Consumer
	exec     Executor
	ids      *Allocator

	maxCount int
	maxSize  int
	policy   delayPolicy

	index         *groupIndex
	promoteTimers *timerRegistry
	flushTimers   *timerRegistry
	queues        map[GroupID][]Update
	waiters       map[NotificationID]Completion
	pushWaiters   map[NotificationID]Completion
	temporary     map[NotificationID]tempRecord

	calls       *reservationPool
	activeCalls map[DialogID][]activeCall

	resyncing   bool
	groupResync map[GroupID]struct{}

	delayedGroups int
	inFlight      int
	reported      [2]bool

	lastPageKey     GroupKey
	groupsLoading   bool
	groupsExhausted bool
	seq             uint64

	started  bool
	disabled bool
	closed   bool
	fatal    error
}

// New проверяет зависимости и собирает Manager.
func New(opts Options) (*Manager, error) {
	if opts.Consumer == nil {
		return nil, errors.New("notify manager: consumer is nil")
	}
	if opts.Executor == nil {
		return nil, errors.New("notify manager: executor is nil")
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.IDs == nil {
		ids, err := NewAllocator(nil)
		if err != nil {
			return nil, err
		}
		opts.IDs = ids
	}
	st := opts.Settings.normalized()

	m := &Manager{
		clock:         opts.Clock,
		history:       opts.History,
		journal:       opts.Journal,
		consumer:      opts.Consumer,
		exec:          opts.Executor,
		ids:           opts.IDs,
		maxCount:      st.MaxGroupCount,
		maxSize:       st.MaxGroupSize,
		policy:        delayPolicy{delays: st.Delays},
		index:         newGroupIndex(),
		promoteTimers: newTimerRegistry(),
		flushTimers:   newTimerRegistry(),
		queues:        make(map[GroupID][]Update),
		waiters:       make(map[NotificationID]Completion),
		pushWaiters:   make(map[NotificationID]Completion),
		temporary:     make(map[NotificationID]tempRecord),
		calls:         newReservationPool(opts.IDs.CallGroups()),
		activeCalls:   make(map[DialogID][]activeCall),
		groupResync:   make(map[GroupID]struct{}),
	}
	return m, nil
}

func (s Settings) normalized() Settings {
	out := s
	out.MaxGroupCount = min(max(s.MaxGroupCount, 0), MaxGroupCountLimit)
	out.MaxGroupSize = min(max(s.MaxGroupSize, MinGroupSize), MaxGroupSizeLimit)
	if out.Delays.Default < 0 {
		out.Delays.Default = DefaultDelay
	}
	if out.Delays.Cloud < 0 {
		out.Delays.Cloud = DefaultCloudDelay
	}
	if out.Delays.OnlineCloudTimeout < 0 {
		out.Delays.OnlineCloudTimeout = DefaultOnlineCloudTimeout
	}
	return out
}

// Start запускает воспроизведение журнала и первую страницу групп из истории.
func (m *Manager) Start() {
	defer m.settle()
	if m.started || m.closed {
		return
	}
	m.started = true
	logger.Infof("Notify: starting with %d groups x %d notifications", m.maxCount, m.maxSize)
	if m.journal != nil {
		m.replay()
	}
	if n := m.windowSize(); n > 0 {
		m.loadGroupPage(n)
	}
}

// Err возвращает фатальную ошибку, после которой цикл должен остановиться.
func (m *Manager) Err() error { return m.fatal }

// SetEnabled включает или выключает движок (например, при выходе из аккаунта).
// Выключенный движок убирает все группы из UI и отклоняет добавления.
func (m *Manager) SetEnabled(enabled bool) {
	defer m.settle()
	if m.disabled == !enabled || m.closed {
		return
	}
	m.flushAll(false)
	before := m.index.window(m.windowSize())
	m.disabled = !enabled
	m.commit(before, nil, silentAttrs)
	m.flushAll(false)
}

// SetPresence обновляет сигналы присутствия для следующих расчётов задержки.
func (m *Manager) SetPresence(p Presence) {
	m.policy.presence = p
}

// Snapshot возвращает состояние всех групп в порядке индекса.
func (m *Manager) Snapshot() []GroupState {
	groups := m.index.ordered()
	out := make([]GroupState, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.state())
	}
	return out
}

// NextDeadline — ближайший дедлайн промоушена или сброса очереди.
func (m *Manager) NextDeadline() (time.Time, bool) {
	a, okA := m.promoteTimers.next()
	b, okB := m.flushTimers.next()
	switch {
	case okA && okB:
		if b.Before(a) {
			return b, true
		}
		return a, true
	case okA:
		return a, true
	default:
		return b, okB
	}
}

// RunDueTimers выполняет истёкшие промоушены, затем сбросы очередей.
func (m *Manager) RunDueTimers() {
	defer m.settle()
	now := m.clock.Now()
	for _, id := range m.promoteTimers.popDue(now) {
		if g := m.index.get(id); g != nil {
			m.promote(g)
		}
	}
	for _, id := range m.flushTimers.popDue(now) {
		m.flushUpdates(id, false)
	}
}

// Shutdown сбрасывает всё, что накоплено, и завершает всех ожидающих.
func (m *Manager) Shutdown() {
	if m.closed {
		return
	}
	m.flushAll(true)
	m.closed = true
	m.promoteTimers = newTimerRegistry()
	m.flushTimers = newTimerRegistry()
	for id, c := range m.waiters {
		c.resolve(ErrClosed)
		delete(m.waiters, id)
	}
	// Пуши, чья запись в журнал ещё не подтверждена.
	for id, c := range m.pushWaiters {
		c.resolve(ErrClosed)
		delete(m.pushWaiters, id)
	}
	m.settle()
	logger.Info("Notify: engine stopped")
}

func (m *Manager) active() bool {
	return !m.closed && !m.disabled && m.fatal == nil
}

func (m *Manager) windowSize() int {
	if m.disabled || m.closed {
		return 0
	}
	return m.maxCount
}

func (m *Manager) keepSize() int {
	return m.maxSize + ExtraGroupSize
}

func (m *Manager) submit(lane Lane, job Job) {
	m.exec.Submit(lane, job)
}

func (m *Manager) fail(err error) {
	if m.fatal != nil {
		return
	}
	m.fatal = err
	logger.Errorf("Notify: fatal error: %v", err)
}

func (m *Manager) resolveWaiter(id NotificationID, err error) {
	if c, ok := m.waiters[id]; ok {
		delete(m.waiters, id)
		c.resolve(err)
	}
}

// released вызывается при уничтожении уведомления: стирает запись журнала и
// будит ожидающего.
func (m *Manager) released(id NotificationID) {
	if rec, ok := m.temporary[id]; ok {
		delete(m.temporary, id)
		m.eraseRecord(id, rec.handle)
	}
	m.resolveWaiter(id, nil)
}

// settle сообщает UI пару флагов «есть отложенные» / «есть неполученные»,
// если хоть один пересёк ноль.
func (m *Manager) settle() {
	state := [2]bool{
		m.delayedGroups > 0 || len(m.queues) > 0,
		m.inFlight > 0 || m.resyncing || len(m.groupResync) > 0,
	}
	if state == m.reported {
		return
	}
	m.reported = state
	m.consumer.SetPendingState(state[0], state[1])
}

// flushAll промоутит все отложенные уведомления и сбрасывает все очереди:
// сначала группы вне окна, затем видимые в порядке индекса.
func (m *Manager) flushAll(force bool) {
	for _, g := range m.index.ordered() {
		if len(g.pending) > 0 {
			m.promote(g)
		}
	}
	ids := make([]GroupID, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	n := m.windowSize()
	rank := func(id GroupID) (bool, GroupKey) {
		g := m.index.get(id)
		if g == nil {
			return false, GroupKey{Group: id}
		}
		return m.index.visible(g, n), g.key
	}
	slices.SortFunc(ids, func(a, b GroupID) int {
		va, ka := rank(a)
		vb, kb := rank(b)
		if va != vb {
			if !va {
				return -1
			}
			return 1
		}
		return compareKeys(ka, kb)
	})
	for _, id := range ids {
		m.flushUpdates(id, force)
	}
}
