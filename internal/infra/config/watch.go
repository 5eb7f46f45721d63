package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"chat-notifications/internal/infra/concurrency"
	"chat-notifications/internal/infra/logger"
)

// watchDebounce — пауза, после которой пачка событий ФС превращается в одну перезагрузку.
const watchDebounce = 250 * time.Millisecond

// ChangeFunc получает перечитанную конфигурацию и предупреждения к ней.
type ChangeFunc func(env EnvConfig, warnings []string)

// Watcher следит за файлом .env. Закрывается отменой контекста Watch или Close.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce *concurrency.Debouncer
	path     string
	fn       ChangeFunc

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Watch подписывается на изменения envPath. Наблюдение идёт за каталогом
// файла: редакторы часто сохраняют через переименование временного файла.
// Ошибка перечитывания логируется, fn при этом не вызывается.
func Watch(ctx context.Context, envPath string, fn ChangeFunc) (*Watcher, error) {
	abs, err := filepath.Abs(envPath)
	if err != nil {
		return nil, errors.Wrap(err, "resolve env path")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fs watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	runCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		fs:       fsw,
		debounce: concurrency.NewDebouncer(nil, watchDebounce),
		path:     abs,
		fn:       fn,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	w.debounce.Start(runCtx)
	go w.loop(runCtx)
	logger.Debugf("Config: watching %s", abs)
	return w, nil
}

// Close останавливает наблюдение и дожидается выхода цикла.
func (w *Watcher) Close() {
	w.closeOnce.Do(w.cancel)
	<-w.done
}

// Done закрывается после остановки наблюдения.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		_ = w.fs.Close()
		w.debounce.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.debounce.Do(w.path, func() { w.reload(ctx) })
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("Config: watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	env, warnings, err := Parse(w.path)
	if err != nil {
		logger.Warn("Config: reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	logger.Info("Config: reloaded", zap.String("path", w.path))
	w.fn(env, warnings)
}
