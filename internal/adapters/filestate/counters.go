// Package filestate хранит счётчики идентификаторов движка уведомлений в JSON-файле.
// Запись атомарная (storage.AtomicWriteFile), поэтому после падения в файле
// всегда лежит либо старая, либо новая граница резерва.
package filestate

import (
	"encoding/json"
	"path/filepath"

	"github.com/go-faster/errors"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/logger"
	"chat-notifications/internal/infra/storage"
)

// Counters реализует notify.CounterStore.
type Counters struct {
	path string
}

var _ notify.CounterStore = (*Counters)(nil)

// NewCounters не трогает файловую систему: файл читается в Load.
func NewCounters(path string) *Counters {
	return &Counters{path: filepath.Clean(path)}
}

// Load читает счётчики. Отсутствующий или пустой файл — нулевое состояние.
// Битый файл не перезаписывается: с нуля выдавать id нельзя.
func (c *Counters) Load() (notify.Counters, error) {
	data, ok, err := storage.ReadOptional(c.path)
	if err != nil {
		return notify.Counters{}, errors.Wrap(err, "read counters")
	}
	if !ok || len(data) == 0 {
		logger.Debugf("CounterStore: %s not found; starting from zero", c.path)
		return notify.Counters{}, nil
	}
	var st notify.Counters
	if err = json.Unmarshal(data, &st); err != nil {
		return notify.Counters{}, errors.Wrapf(err, "decode counters %s", c.path)
	}
	return st, nil
}

// Save атомарно перезаписывает файл.
func (c *Counters) Save(st notify.Counters) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode counters")
	}
	return storage.AtomicWriteFile(c.path, data)
}
