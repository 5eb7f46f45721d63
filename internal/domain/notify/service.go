package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"chat-notifications/internal/infra/logger"
)

// Service владеет Manager и сериализует доступ к нему: публичные методы
// отправляют команды в цикл Run, фоновые запросы выполняются воркерами очередей,
// а их завершения возвращаются в тот же цикл.
type Service struct {
	m     *Manager
	clock clock.Clock

	cmds        chan func(*Manager)
	completions chan func(*Manager)
	stopped     chan struct{}

	lanes map[Lane]*lane

	running atomic.Bool
	wg      sync.WaitGroup
}

// lane — неограниченная FIFO-очередь фоновых запросов с одним воркером.
type lane struct {
	mu     sync.Mutex
	jobs   []Job
	signal chan struct{}
}

func newLane() *lane {
	return &lane{signal: make(chan struct{}, 1)}
}

func (l *lane) push(job Job) {
	l.mu.Lock()
	l.jobs = append(l.jobs, job)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *lane) pop() (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.jobs) == 0 {
		return nil, false
	}
	job := l.jobs[0]
	l.jobs[0] = nil
	l.jobs = l.jobs[1:]
	return job, true
}

// NewService собирает Manager поверх собственного исполнителя очередей.
// Поле opts.Executor игнорируется.
func NewService(opts Options) (*Service, error) {
	s := &Service{
		cmds:        make(chan func(*Manager)),
		completions: make(chan func(*Manager)),
		stopped:     make(chan struct{}),
		lanes: map[Lane]*lane{
			LaneJournal: newLane(),
			LaneHistory: newLane(),
		},
	}
	opts.Executor = serviceExecutor{s}
	m, err := New(opts)
	if err != nil {
		return nil, err
	}
	s.m = m
	s.clock = m.clock
	return s, nil
}

type serviceExecutor struct{ s *Service }

func (e serviceExecutor) Submit(l Lane, job Job) {
	q, ok := e.s.lanes[l]
	if !ok {
		q = e.s.lanes[LaneHistory]
	}
	q.push(job)
}

// Run крутит цикл движка до отмены ctx или фатальной ошибки журнала.
// При выходе выполняется финальный сброс, а ожидающие получают ErrClosed.
// Повторный запуск не допускается.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("notify service: already running")
	}
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) error {
	// Очереди переживают отмену ctx: стирания журнала, поставленные финальным
	// сбросом, должны дойти до хранилища.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	drained := make(chan struct{})
	for _, l := range s.lanes {
		s.wg.Go(func() { s.laneLoop(workCtx, l) })
	}
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	defer func() {
		s.m.Shutdown()
		close(s.stopped)
		select {
		case <-drained:
		case <-s.clock.After(ShutdownDrainTimeout):
			logger.Warnf("Notify: background queues not drained in %s", ShutdownDrainTimeout)
		}
		cancel()
	}()

	s.m.Start()
	for {
		if err := s.m.Err(); err != nil {
			return err
		}

		var (
			timer  clock.Timer
			timerC <-chan time.Time
		)
		if at, ok := s.m.NextDeadline(); ok {
			wait := at.Sub(s.clock.Now())
			if wait <= 0 {
				s.m.RunDueTimers()
				continue
			}
			timer = s.clock.NewTimer(wait)
			timerC = timer.Chan()
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			logger.Debug("Notify: service loop stopped")
			return nil
		case fn := <-s.cmds:
			fn(s.m)
		case apply := <-s.completions:
			apply(s.m)
		case <-timerC:
			s.m.RunDueTimers()
		}
		stopTimer(timer)
	}
}

func stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

// laneLoop выполняет запросы очереди по одному и отдаёт завершения в цикл.
// После остановки цикла очередь дорабатывает до пустой, завершения отбрасываются.
func (s *Service) laneLoop(ctx context.Context, l *lane) {
	stopping := false
	for {
		job, ok := l.pop()
		if !ok {
			if stopping {
				return
			}
			select {
			case <-s.stopped:
				stopping = true
				continue
			case <-ctx.Done():
				return
			case <-l.signal:
				continue
			}
		}
		apply := job(ctx)
		if apply == nil {
			continue
		}
		select {
		case s.completions <- apply:
		case <-s.stopped:
		}
	}
}

// Do выполняет fn в цикле движка. false — цикл уже остановлен.
func (s *Service) Do(fn func(*Manager)) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

// call отправляет операцию с хэндлом завершения; после остановки хэндл получает ErrClosed.
func (s *Service) call(op func(*Manager, Completion)) <-chan error {
	done := NewCompletion()
	if !s.Do(func(m *Manager) { op(m, done) }) {
		done.resolve(ErrClosed)
	}
	return done
}

// AddNotification ставит уведомление в очередь движка.
func (s *Service) AddNotification(req AddRequest) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.AddNotification(req, done) })
}

// AddPushNotification пишет пуш в журнал и добавляет его.
func (s *Service) AddPushNotification(req AddRequest) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.AddPushNotification(req, done) })
}

// EditNotification меняет содержимое уведомления.
func (s *Service) EditNotification(group GroupID, id NotificationID, payload Payload) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.EditNotification(group, id, payload, done) })
}

// RemoveNotification уничтожает уведомление.
func (s *Service) RemoveNotification(group GroupID, id NotificationID, permanent bool) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.RemoveNotification(group, id, permanent, done) })
}

// RemoveGroupUpTo уничтожает префикс группы.
func (s *Service) RemoveGroupUpTo(group GroupID, maxID NotificationID, maxMessage MessageID, newTotal int32) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.RemoveGroupUpTo(group, maxID, maxMessage, newTotal, done) })
}

// AddCall показывает входящий звонок.
func (s *Service) AddCall(dialog DialogID, callID int64) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.AddCall(dialog, callID, done) })
}

// RemoveCall убирает звонок.
func (s *Service) RemoveCall(dialog DialogID, callID int64) <-chan error {
	return s.call(func(m *Manager, done Completion) { m.RemoveCall(dialog, callID, done) })
}

// ApplySettings применяет конфигурацию.
func (s *Service) ApplySettings(st Settings) bool {
	return s.Do(func(m *Manager) { m.ApplySettings(st) })
}

// SetPresence обновляет сигналы присутствия.
func (s *Service) SetPresence(p Presence) bool {
	return s.Do(func(m *Manager) { m.SetPresence(p) })
}

// SetEnabled включает или выключает показ.
func (s *Service) SetEnabled(enabled bool) bool {
	return s.Do(func(m *Manager) { m.SetEnabled(enabled) })
}

func (s *Service) BeforeResync() bool { return s.Do((*Manager).BeforeResync) }
func (s *Service) AfterResync() bool  { return s.Do((*Manager).AfterResync) }

func (s *Service) BeforeGroupResync(id GroupID) bool {
	return s.Do(func(m *Manager) { m.BeforeGroupResync(id) })
}

func (s *Service) AfterGroupResync(id GroupID) bool {
	return s.Do(func(m *Manager) { m.AfterGroupResync(id) })
}

// FlushGroup сбрасывает группу немедленно.
func (s *Service) FlushGroup(id GroupID) bool {
	return s.Do(func(m *Manager) { m.FlushGroup(id) })
}

// FlushAll сбрасывает всё немедленно.
func (s *Service) FlushAll() bool {
	return s.Do((*Manager).FlushAll)
}

// Snapshot возвращает состояние групп; nil после остановки.
func (s *Service) Snapshot() []GroupState {
	out := make(chan []GroupState, 1)
	if !s.Do(func(m *Manager) { out <- m.Snapshot() }) {
		return nil
	}
	return <-out
}

// IDs возвращает аллокатор, из которого продюсеры берут идентификаторы.
func (s *Service) IDs() *Allocator { return s.m.ids }
