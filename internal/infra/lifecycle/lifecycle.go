// Package lifecycle — менеджер управляемых подсистем приложения.
// Узлы объявляют зависимости; менеджер поднимает их после зависимостей и гасит
// в обратном фактическому запуску порядке.
package lifecycle

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"chat-notifications/internal/infra/logger"
)

// StartFunc запускает узел. ctx отменяется при остановке узла, поэтому фоновые
// горутины узла должны слушать именно его.
type StartFunc func(ctx context.Context) error

// StopFunc останавливает узел. На момент вызова контекст узла уже отменён.
type StopFunc func(ctx context.Context) error

type nodeStatus int

const (
	statusRegistered nodeStatus = iota
	statusStarting
	statusRunning
	statusStopped
	statusFailed
)

type node struct {
	name  string
	deps  []string
	start StartFunc
	stop  StopFunc

	ctx    context.Context
	cancel context.CancelFunc
	status nodeStatus
}

// Manager управляет набором узлов. Потокобезопасен.
type Manager struct {
	root context.Context

	mu         sync.Mutex
	nodes      map[string]*node
	startOrder []string
}

// New создаёт менеджер; контексты узлов наследуют rootCtx (nil — context.Background()).
func New(rootCtx context.Context) *Manager {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Manager{
		root:  rootCtx,
		nodes: make(map[string]*node),
	}
}

// Register добавляет узел name, который стартует после всех deps.
// Зависимости проверяются при StartAll, поэтому порядок регистрации произвольный.
func (m *Manager) Register(name string, deps []string, start StartFunc, stop StopFunc) error {
	if name == "" {
		return errors.New("lifecycle: empty node name")
	}
	if slices.Contains(deps, name) {
		return errors.Errorf("lifecycle: node %q cannot depend on itself", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[name]; exists {
		return errors.Errorf("lifecycle: node %q already registered", name)
	}
	uniq := slices.Clone(deps)
	slices.Sort(uniq)
	m.nodes[name] = &node{
		name:  name,
		deps:  slices.Compact(uniq),
		start: start,
		stop:  stop,
	}
	return nil
}

// StartAll запускает узлы с учётом зависимостей; среди независимых порядок
// алфавитный. Первая ошибка прерывает запуск: уже поднятые узлы гасит Shutdown.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.nodes))
	for name := range m.nodes {
		names = append(names, name)
	}
	m.mu.Unlock()
	slices.Sort(names)

	for _, name := range names {
		if err := m.startNode(name); err != nil {
			return err
		}
	}
	logger.Debugf("lifecycle start order: %v", m.Order())
	return nil
}

func (m *Manager) startNode(name string) error {
	m.mu.Lock()
	n, exists := m.nodes[name]
	if !exists {
		m.mu.Unlock()
		return errors.Errorf("lifecycle: node %q not registered", name)
	}
	switch n.status {
	case statusRunning:
		m.mu.Unlock()
		return nil
	case statusStarting:
		m.mu.Unlock()
		return errors.Errorf("lifecycle: detected cycle while starting %q", name)
	case statusFailed, statusStopped:
		m.mu.Unlock()
		return errors.Errorf("lifecycle: node %q cannot be restarted", name)
	}
	n.status = statusStarting
	deps := n.deps
	m.mu.Unlock()

	for _, dep := range deps {
		if err := m.startNode(dep); err != nil {
			m.setStatus(n, statusFailed)
			return errors.Wrapf(err, "start %s", name)
		}
	}

	logger.Debugf("starting node %s", name)
	ctx, cancel := context.WithCancel(m.root)
	if n.start != nil {
		if err := n.start(ctx); err != nil {
			cancel()
			m.setStatus(n, statusFailed)
			logger.Errorf("failed to start node %s: %v", name, err)
			return errors.Wrapf(err, "start %s", name)
		}
	}

	m.mu.Lock()
	n.ctx = ctx
	n.cancel = cancel
	n.status = statusRunning
	m.startOrder = append(m.startOrder, name)
	m.mu.Unlock()

	logger.Debugf("node %s is running", name)
	return nil
}

// Shutdown останавливает запущенные узлы в обратном порядке и собирает ошибки stop-хуков.
func (m *Manager) Shutdown() error {
	order := m.Order()
	logger.Debugf("shutdown order: %v", order)

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, m.stopNode(order[i]))
	}
	return errs
}

// Order возвращает фактический порядок запуска.
func (m *Manager) Order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.startOrder)
}

func (m *Manager) stopNode(name string) error {
	m.mu.Lock()
	n := m.nodes[name]
	if n == nil || n.status != statusRunning {
		m.mu.Unlock()
		return nil
	}
	n.status = statusStopped
	m.mu.Unlock()

	logger.Debugf("stopping node %s", name)
	n.cancel()

	var err error
	if n.stop != nil {
		err = n.stop(n.ctx)
	}
	if err != nil {
		m.setStatus(n, statusFailed)
		logger.Errorf("node %s stopped with error: %v", name, err)
		return errors.Wrapf(err, "stop %s", name)
	}
	logger.Debugf("node %s stopped", name)
	return nil
}

func (m *Manager) setStatus(n *node, st nodeStatus) {
	m.mu.Lock()
	n.status = st
	m.mu.Unlock()
}
