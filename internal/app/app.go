// Package app — верхний уровень сборки демона уведомлений.
// Здесь связываются конфигурация, журнал пушей (bbolt), история (sqlite),
// счётчики идентификаторов, движок уведомлений, трекер присутствия и
// наблюдение за .env. Узлы поднимаются через lifecycle в порядке зависимостей
// и гасятся в обратном.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/juju/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"chat-notifications/internal/adapters/boltlog"
	"chat-notifications/internal/adapters/filestate"
	"chat-notifications/internal/adapters/sqlitehistory"
	"chat-notifications/internal/adapters/telegram/presence"
	"chat-notifications/internal/adapters/uilog"
	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/concurrency"
	"chat-notifications/internal/infra/config"
	"chat-notifications/internal/infra/lifecycle"
	"chat-notifications/internal/infra/logger"
)

// Имена узлов жизненного цикла.
const (
	nodeJournal  = "journal"
	nodeHistory  = "history"
	nodeRecorder = "history_recorder"
	nodeEngine   = "engine"
	nodePresence = "presence"
	nodeWatch    = "config_watch"
)

// App агрегирует зависимости демона.
type App struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc
	envPath    string
	env        config.EnvConfig
	clock      clock.Clock

	journal  *boltlog.Log
	history  *sqlitehistory.Store
	recorder *sqlitehistory.Recorder
	ui       *uilog.Console
	service  *notify.Service
	presence *presence.Tracker
	watcher  *config.Watcher
	nodes    *lifecycle.Manager

	ready      chan struct{}
	engineDone chan struct{}
	engineErr  error
}

// NewApp создаёт каркас приложения; фактическая сборка выполняется в Run.
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, envPath string, env config.EnvConfig) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		envPath:    envPath,
		env:        env,
		clock:      clock.WallClock,
		ui:         uilog.New(),
		ready:      make(chan struct{}),
		engineDone: make(chan struct{}),
	}
}

// Run поднимает узлы и блокируется до отмены mainCtx или остановки движка
// из-за сбоя журнала. Ошибки остановки узлов объединяются с ошибкой движка.
func (a *App) Run() error {
	logger.Info("Notification daemon initializing...")

	a.nodes = lifecycle.New(a.mainCtx)
	if err := a.register(); err != nil {
		return err
	}
	if err := a.nodes.StartAll(); err != nil {
		return multierr.Append(errors.Wrap(err, "start nodes"), a.nodes.Shutdown())
	}
	close(a.ready)

	concurrency.StartTimeoutTimer(a.mainCtx, a.clock, time.Duration(a.env.RunTimeoutSec)*time.Second, a.mainCancel)
	logger.Info("Notification daemon running...")

	select {
	case <-a.mainCtx.Done():
		logger.Debug("Shutdown signal received, stopping nodes...")
	case <-a.engineDone:
		if a.engineErr != nil {
			logger.Error("Notify engine stopped", zap.Error(a.engineErr))
		}
	}

	err := a.nodes.Shutdown()
	if a.engineErr != nil {
		err = multierr.Append(errors.Wrap(a.engineErr, "notify engine"), err)
	}
	return err
}

// Ready закрывается, когда все узлы запущены.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Service возвращает движок для продюсеров. Доступен после Ready.
func (a *App) Service() *notify.Service { return a.service }

// Presence возвращает трекер присутствия. Доступен после Ready.
// Транспорт, который получает апдейты аккаунта, передаёт сюда
// tg.UpdateUserStatus через HandleUpdate: без этого правила задержки для
// другой онлайн-сессии не срабатывают, а демон знает только свой статус.
func (a *App) Presence() *presence.Tracker { return a.presence }

// UI возвращает консольного потребителя дельт.
func (a *App) UI() *uilog.Console { return a.ui }

type nodeSpec struct {
	name  string
	deps  []string
	start lifecycle.StartFunc
	stop  lifecycle.StopFunc
}

func (a *App) register() error {
	steps := []nodeSpec{
		{nodeJournal, nil, a.startJournal, func(context.Context) error { return a.journal.Close() }},
		{nodeHistory, nil, a.startHistory, func(context.Context) error { return a.history.Close() }},
		{nodeRecorder, []string{nodeHistory}, a.startRecorder, func(context.Context) error {
			a.recorder.Close()
			return nil
		}},
		{nodeEngine, []string{nodeJournal, nodeHistory, nodeRecorder}, a.startEngine, func(context.Context) error {
			<-a.engineDone
			return nil
		}},
		{nodePresence, []string{nodeEngine}, a.startPresence, func(context.Context) error {
			a.presence.SetLocalOnline(false)
			return nil
		}},
	}
	if a.env.ConfigWatch && a.envPath != "" {
		steps = append(steps, nodeSpec{nodeWatch, []string{nodeEngine}, a.startWatch, func(context.Context) error {
			a.watcher.Close()
			return nil
		}})
	}

	for _, s := range steps {
		if err := a.nodes.Register(s.name, s.deps, s.start, s.stop); err != nil {
			return errors.Wrap(err, "register nodes")
		}
	}
	return nil
}

func (a *App) startJournal(context.Context) error {
	j, err := boltlog.Open(a.env.JournalFile)
	if err != nil {
		return errors.Wrap(err, "open push journal")
	}
	a.journal = j
	return nil
}

func (a *App) startHistory(context.Context) error {
	h, err := sqlitehistory.Open(a.env.HistoryFile)
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	a.history = h
	return nil
}

func (a *App) startRecorder(context.Context) error {
	a.recorder = sqlitehistory.NewRecorder(a.history, a.ui)
	go a.recorder.Run()
	return nil
}

func (a *App) startEngine(ctx context.Context) error {
	ids, err := notify.NewAllocator(filestate.NewCounters(a.env.CountersFile))
	if err != nil {
		return errors.Wrap(err, "init id allocator")
	}
	svc, err := notify.NewService(notify.Options{
		Clock:    a.clock,
		History:  sqlitehistory.NewThrottled(a.history, a.env.HistoryRPS),
		Journal:  a.journal,
		Consumer: a.recorder,
		IDs:      ids,
		Settings: a.env.Settings(),
	})
	if err != nil {
		return errors.Wrap(err, "init notify service")
	}
	a.service = svc

	go func() {
		defer close(a.engineDone)
		a.engineErr = svc.Run(ctx)
	}()
	return nil
}

func (a *App) startPresence(context.Context) error {
	a.presence = presence.NewTracker(a.clock, a.env.AccountID, func(p notify.Presence) {
		a.service.SetPresence(p)
	})
	a.presence.SetLocalOnline(true)
	return nil
}

func (a *App) startWatch(ctx context.Context) error {
	w, err := config.Watch(ctx, a.envPath, a.applyConfig)
	if err != nil {
		return errors.Wrap(err, "watch config")
	}
	a.watcher = w
	return nil
}

// applyConfig применяет перечитанный .env: уровень логов и настройки движка.
// Пути к файлам и LOG_FILE* действуют только после перезапуска.
func (a *App) applyConfig(env config.EnvConfig, warnings []string) {
	for _, msg := range warnings {
		logger.Debug(msg)
	}
	logger.SetLevel(env.LogLevel)
	if !a.service.ApplySettings(env.Settings()) {
		logger.Warn("Config: engine is stopped; settings not applied")
	}
}
