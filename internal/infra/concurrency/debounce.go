// Package concurrency — утилиты для безопасного конкурентного исполнения.
// В этом файле реализован Debouncer — «сглаживание» повторяющихся событий по ключу.
// Он откладывает выполнение функции, пока активность по ключу не утихнет, и
// запускает обработку один раз, по последнему событию.
//
// Применение: пачки событий файловой системы при сохранении .env редактором
// схлопываются в одну перезагрузку настроек.

package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

// Debouncer группирует повторяющиеся действия по ключу и запускает их только
// один раз после паузы. Структура потокобезопасна.
type Debouncer struct {
	mu      sync.Mutex
	clock   clock.Clock
	pending map[string]pendingEntry // ключ -> активный таймер и последний колбэк
	timeout time.Duration

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pendingEntry сохраняет таймер и отложенный колбэк, чтобы при остановке их можно было вызвать вручную.
type pendingEntry struct {
	timer clock.Timer
	fn    func()
	seq   uint64
}

// NewDebouncer создаёт дебаунсер с паузой timeout. nil-часы означают clock.WallClock.
// Привязка к жизненному циклу выполняется через Start.
func NewDebouncer(clk clock.Clock, timeout time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Debouncer{
		clock:   clk,
		pending: make(map[string]pendingEntry),
		timeout: timeout,
	}
}

// Start привязывает Debouncer к контексту: при его отмене накопленные вызовы
// выполняются немедленно. Повторные вызовы игнорируются.
func (d *Debouncer) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.ctx = runCtx
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Go(func() {
		<-runCtx.Done()
		d.flushPending()
	})
}

// Stop останавливает дебаунсер и синхронно выполняет все отложенные функции.
// После возврата активных таймеров не остаётся.
func (d *Debouncer) Stop() {
	d.runMu.Lock()
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.ctx = nil
	d.mu.Unlock()
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.flushPending()
}

// Do регистрирует fn для key и откладывает её запуск на timeout.
// Повторный вызов для того же ключа перезапускает окно и заменяет колбэк.
// Если дебаунсер не запущен, fn выполняется сразу.
func (d *Debouncer) Do(key string, fn func()) {
	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		fn()
		return
	}

	var seq uint64
	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
		seq = entry.seq + 1
	}
	d.pending[key] = pendingEntry{
		timer: d.clock.AfterFunc(d.timeout, func() { d.execute(key, seq) }),
		fn:    fn,
		seq:   seq,
	}
	d.mu.Unlock()
}

// Pending возвращает число ключей, ожидающих срабатывания.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// execute запускает колбэк ключа вне критической секции. Таймер, уже
// вытесненный новым вызовом Do, ничего не делает.
func (d *Debouncer) execute(key string, seq uint64) {
	var fn func()

	d.mu.Lock()
	if entry, ok := d.pending[key]; ok && entry.seq == seq {
		delete(d.pending, key)
		fn = entry.fn
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (d *Debouncer) flushPending() {
	var entries []pendingEntry

	d.mu.Lock()
	for key, entry := range d.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		entry.fn()
	}
}
