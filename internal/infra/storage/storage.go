// Package storage — утилиты безопасной работы с локальной файловой системой.
// Используется для каталогов bbolt-баз, scratch-каталога загрузок и атомарной
// записи чувствительных данных, где недопустимы частично записанные файлы.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"telegram-downloader/internal/infra/logger"
)

// DefaultFilePerm — права, выставляемые на итоговый файл при атомарной записи.
// Значение 0o600 ограничивает доступ только владельцу процесса.
const DefaultFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
// Создание выполняется с правами 0o700, ошибки оборачиваются с указанием каталога.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// EnsureDirPath создаёт сам каталог path (а не каталог его родителя).
// Применяется для scratch-каталога загрузок.
func EnsureDirPath(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod → close →
// rename → fsync(dir). Либо старый файл остаётся цел, либо новый записан
// полностью. os.Rename атомарен только в пределах одного файлового тома;
// fsync каталога выполняется best-effort.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = tmp.Chmod(DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, openErr := os.Open(dir); openErr == nil {
		if syncErr := dirFile.Sync(); syncErr != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", syncErr)
		}
		_ = dirFile.Close()
	}
	return nil
}
