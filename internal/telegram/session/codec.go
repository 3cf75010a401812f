// Package session — строковое представление пользовательской MTProto-сессии.
// Сырые данные сессии gotd (JSON с ключами авторизации) кодируются в
// base64url без паддинга и в таком виде хранятся в учётной записи. Формат
// непрозрачен для остальных слоёв: они передают строку как есть.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
)

// ErrMalformed — строка не является закодированной сессией.
var ErrMalformed = errors.New("session: malformed credential string")

var encoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// Encode упаковывает сырые данные сессии в строку для хранения.
func Encode(raw []byte) string {
	return encoding.EncodeToString(raw)
}

// Decode распаковывает строку обратно в сырые данные сессии. Проверяет, что
// внутри валидный JSON-срез, до передачи данных клиенту.
func Decode(s string) ([]byte, error) {
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, ErrMalformed
	}
	return raw, nil
}

// Export снимает текущую сессию из хранилища клиента и кодирует её в строку.
// Вызывается после успешного входа.
func Export(ctx context.Context, storage tdsession.Storage) (string, error) {
	raw, err := storage.LoadSession(ctx)
	if err != nil {
		return "", errors.Wrap(err, "load session")
	}
	return Encode(raw), nil
}

// Storage строит хранилище сессии в памяти, предзаполненное данными из
// строки. Используется для поднятия клиента по сохранённой учётной записи.
func Storage(credential string) (*tdsession.StorageMemory, error) {
	raw, err := Decode(credential)
	if err != nil {
		return nil, err
	}
	var st tdsession.StorageMemory
	if err := st.StoreSession(context.Background(), raw); err != nil {
		return nil, errors.Wrap(err, "seed session storage")
	}
	return &st, nil
}
