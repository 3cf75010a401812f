package session

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"telegram-downloader/internal/infra/storage"
)

// FileStorage реализует tdsession.Storage поверх обычного файла на диске.
// Используется для собственной сессии бота; пользовательские сессии хранятся
// строками в учётных записях и сюда не попадают. Потокобезопасен: Load/Store
// защищены мьютексом.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}
	return nil
}
