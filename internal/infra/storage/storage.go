// Package storage — утилиты работы с локальными файлами состояния.
//   - EnsureDir создаёт каталог под файл журнала, истории или счётчиков;
//   - AtomicWriteFile заменяет файл целиком, без промежуточных состояний на диске;
//   - ReadOptional читает файл, который может ещё не существовать.
package storage

import (
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"chat-notifications/internal/infra/logger"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// EnsureDir гарантирует наличие каталога для файла path. Путь без каталога не трогается.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.Wrapf(err, "create dir %s", dir)
	}
	return nil
}

// ReadOptional читает файл. Отсутствующий файл — (nil, false, nil).
func ReadOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s", path)
	}
	return data, true, nil
}

// AtomicWriteFile записывает data в path через временный файл того же каталога:
// write, fsync, chmod 0600, rename, затем fsync каталога. Читатель видит либо
// старое содержимое, либо новое целиком. fsync каталога best-effort.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmpName, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()

	if err := os.Rename(tmpName, clean); err != nil {
		return errors.Wrap(err, "rename temp file")
	}
	syncDir(dir)
	return nil
}

// writeTemp создаёт в dir полностью записанный и синхронизированный временный файл.
func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	name := tmp.Name()

	fail := func(err error, msg string) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", errors.Wrap(err, msg)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "fsync temp file")
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fail(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", errors.Wrap(err, "close temp file")
	}
	return name, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		logger.Warnf("AtomicWriteFile: dir sync error: %v", err)
	}
	_ = d.Close()
}
