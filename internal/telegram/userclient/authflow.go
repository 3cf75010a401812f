// Авторизационный поток поверх userclient: реализация контракта диалога входа.
// Коды ошибок Telegram API транслируются в доменные сентинелы, чтобы машина
// состояний не знала про tgerr.

package userclient

import (
	"context"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-downloader/internal/domain/login"
	tdlsession "telegram-downloader/internal/telegram/session"
)

// AuthDialer открывает свежие авторизационные сессии. Каждый Dial — новый
// клиент с пустой сессией в памяти.
type AuthDialer struct {
	APIID       int
	APIHash     string
	ThrottleRPS int
	TestDC      bool
}

var _ login.Dialer = (*AuthDialer)(nil)

// Dial поднимает клиента под будущую сессию.
func (d *AuthDialer) Dial(ctx context.Context) (login.Flow, error) {
	storage := &tdsession.StorageMemory{}
	client, err := Dial(ctx, Options{
		APIID:          d.APIID,
		APIHash:        d.APIHash,
		SessionStorage: storage,
		ThrottleRPS:    d.ThrottleRPS,
		TestDC:         d.TestDC,
	})
	if err != nil {
		return nil, err
	}
	return &authFlow{client: client, storage: storage}, nil
}

type authFlow struct {
	client  *Client
	storage *tdsession.StorageMemory
}

var _ login.Flow = (*authFlow)(nil)

func (f *authFlow) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := f.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		if tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED") {
			return "", login.ErrPhoneInvalid
		}
		return "", errors.Wrap(err, "send code")
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", errors.Errorf("unexpected sent code type %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (f *authFlow) SignIn(ctx context.Context, phone, codeHash, code string) error {
	_, err := f.client.Auth().SignIn(ctx, phone, code, codeHash)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return login.ErrPasswordNeeded
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return login.ErrCodeInvalid
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return login.ErrCodeExpired
	default:
		return errors.Wrap(err, "sign in")
	}
}

func (f *authFlow) Password(ctx context.Context, password string) error {
	_, err := f.client.Auth().Password(ctx, password)
	switch {
	case err == nil:
		return nil
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return login.ErrPasswordInvalid
	default:
		return errors.Wrap(err, "check password")
	}
}

func (f *authFlow) Export(ctx context.Context) (string, error) {
	return tdlsession.Export(ctx, f.storage)
}

func (f *authFlow) Close() { f.client.Close() }
