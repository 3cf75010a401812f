// Package store — документное хранилище бота поверх bbolt.
// Две коллекции: учётные записи пользователей (bucket "users", ключ —
// десятичный telegram id) и настройки процесса (bucket "settings", ключ —
// имя настройки). Документы сериализуются в JSON; контракт полей фиксирован
// структурами account.User и Setting.
//
// Потокобезопасность обеспечивается транзакциями bbolt: read-modify-write
// выполняется внутри одной Update-транзакции, поэтому конкурирующие мутации
// одного пользователя не теряют инкременты.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/infra/storage"
)

const dbOpenTimeout = time.Second

var (
	usersBucket    = []byte("users")
	settingsBucket = []byte("settings")
)

// DB инкапсулирует открытый файл bbolt и операции обеих коллекций.
type DB struct {
	db *bbolt.DB
}

// Open открывает (или создаёт) файл базы и гарантирует наличие bucket-ов.
func Open(path string) (*DB, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, os.FileMode(storage.DefaultFilePerm), &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(usersBucket); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(settingsBucket)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &DB{db: db}, nil
}

// Close закрывает файл базы данных.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func userKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// FindUser возвращает запись пользователя или account.ErrNotFound.
func (d *DB) FindUser(id int64) (*account.User, error) {
	var u *account.User
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(usersBucket).Get(userKey(id))
		if raw == nil {
			return account.ErrNotFound
		}
		u = new(account.User)
		if err := json.Unmarshal(raw, u); err != nil {
			return fmt.Errorf("decode user %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertUser записывает документ пользователя целиком.
func (d *DB) UpsertUser(u *account.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %d: %w", u.TelegramID, err)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).Put(userKey(u.TelegramID), raw)
	})
}

// UpdateUser атомарно выполняет read-modify-write внутри одной транзакции.
// Отсутствующая запись — account.ErrNotFound; ошибки mutate откатывают запись.
func (d *DB) UpdateUser(id int64, mutate func(*account.User) error) (*account.User, error) {
	var result *account.User
	err := d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(usersBucket)
		raw := bucket.Get(userKey(id))
		if raw == nil {
			return account.ErrNotFound
		}
		u := new(account.User)
		if err := json.Unmarshal(raw, u); err != nil {
			return fmt.Errorf("decode user %d: %w", id, err)
		}
		if err := mutate(u); err != nil {
			return err
		}
		encoded, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user %d: %w", id, err)
		}
		if err := bucket.Put(userKey(id), encoded); err != nil {
			return err
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CountUsers возвращает число учётных записей.
func (d *DB) CountUsers() (int, error) {
	var n int
	err := d.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(usersBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// ListUsers возвращает все учётные записи (используется рассылкой).
func (d *DB) ListUsers() ([]*account.User, error) {
	var users []*account.User
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(_, raw []byte) error {
			u := new(account.User)
			if err := json.Unmarshal(raw, u); err != nil {
				return fmt.Errorf("decode user: %w", err)
			}
			users = append(users, u)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ListUsersByRole возвращает записи с заданной ролью (например, premium).
func (d *DB) ListUsersByRole(role account.Role) ([]*account.User, error) {
	all, err := d.ListUsers()
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, u := range all {
		if u.Role == role {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}
