// Package login — пошаговый вход пользователя по номеру телефона. Диалог
// ведётся в личке с ботом: телефон, одноразовый код, при включённой 2FA ещё и
// облачный пароль. Машина состояний хранится в памяти per-user; на любом
// выходе из диалога (успех, отказ, отмена, таймаут) сетевое соединение
// обязательно закрывается.
package login

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/infra/logger"
)

// Ошибки диалога входа. Flow-реализация транслирует коды Telegram API в эти
// сентинелы, доменный слой других не видит.
var (
	ErrAlreadyAuthorized = errors.New("login: session already exists")
	ErrNoConversation    = errors.New("login: no active conversation")
	ErrPhoneInvalid      = errors.New("login: phone number rejected")
	ErrCodeInvalid       = errors.New("login: confirmation code rejected")
	ErrCodeExpired       = errors.New("login: confirmation code expired")
	ErrPasswordNeeded    = errors.New("login: cloud password required")
	ErrPasswordInvalid   = errors.New("login: cloud password rejected")
	ErrTooManyAttempts   = errors.New("login: too many failed attempts")
)

// maxAttempts — сколько неверных кодов или паролей допускается до обрыва
// диалога.
const maxAttempts = 3

// State — текущее состояние диалога.
type State int

const (
	StateIdle State = iota
	StateAwaitingPhone
	StateAwaitingCode
	StateAwaitingPassword
)

// Step — что боту делать дальше после обработки реплики пользователя.
type Step int

const (
	StepNone Step = iota
	StepAskPhone
	StepAskCode
	StepAskPassword
	StepRetryPhone
	StepRetryCode
	StepRetryPassword
	StepDone
	StepAborted
)

// Flow — одна авторизационная сессия MTProto: отправка кода, ввод кода и
// пароля, экспорт учётных данных. Реализуется телеграм-слоем, в тестах
// подменяется фейком.
type Flow interface {
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, codeHash, code string) error
	Password(ctx context.Context, password string) error
	Export(ctx context.Context) (credential string, err error)
	Close()
}

// Dialer открывает новую авторизационную сессию (свежий клиент с пустой
// сессией, фоновое подключение).
type Dialer interface {
	Dial(ctx context.Context) (Flow, error)
}

// Sessions — часть контракта учётных записей, нужная диалогу входа.
type Sessions interface {
	Get(id int64) (*account.User, error)
	SaveSession(id int64, credential string) error
}

type conversation struct {
	mu       sync.Mutex
	state    State
	phone    string
	codeHash string
	flow     Flow
	attempts int
	started  time.Time
}

// Manager держит активные диалоги входа. Все методы потокобезопасны; сетевые
// вызовы выполняются вне глобального замка, чтобы медленный DC не блокировал
// чужие диалоги.
type Manager struct {
	mu       sync.Mutex
	dialer   Dialer
	sessions Sessions
	convs    map[int64]*conversation
	ttl      time.Duration
	now      func() time.Time
}

// NewManager собирает менеджер. ttl ограничивает жизнь незавершённого диалога;
// nowFn подменяется в тестах (nil — time.Now).
func NewManager(dialer Dialer, sessions Sessions, ttl time.Duration, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		dialer:   dialer,
		sessions: sessions,
		convs:    make(map[int64]*conversation),
		ttl:      ttl,
		now:      nowFn,
	}
}

// Begin стартует диалог входа. Повторный /login при живом диалоге просто
// возвращает текущий шаг; при уже сохранённой сессии — ErrAlreadyAuthorized.
func (m *Manager) Begin(ctx context.Context, userID int64) (Step, error) {
	u, err := m.sessions.Get(userID)
	if err != nil {
		return StepNone, errors.Wrap(err, "load account")
	}
	if u.HasSession() {
		return StepNone, ErrAlreadyAuthorized
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[userID]; ok {
		return stepFor(c.state), nil
	}
	m.convs[userID] = &conversation{state: StateAwaitingPhone, started: m.now()}
	return StepAskPhone, nil
}

// Active сообщает, идёт ли у пользователя диалог входа. Бот по этому флагу
// решает, скармливать ли не-командный текст машине состояний.
func (m *Manager) Active(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.convs[userID]
	return ok
}

// Cancel обрывает диалог и освобождает соединение. Возвращает false, если
// диалога не было.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	c, ok := m.convs[userID]
	delete(m.convs, userID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
	return true
}

// Input обрабатывает очередную реплику пользователя согласно состоянию
// диалога. Возвращаемый Step говорит боту, что спросить дальше; ошибка
// дополняет шаги StepRetry*/StepAborted причиной.
func (m *Manager) Input(ctx context.Context, userID int64, text string) (Step, error) {
	m.mu.Lock()
	c, ok := m.convs[userID]
	m.mu.Unlock()
	if !ok {
		return StepNone, ErrNoConversation
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAwaitingPhone:
		return m.stepPhone(ctx, userID, c, text)
	case StateAwaitingCode:
		return m.stepCode(ctx, userID, c, text)
	case StateAwaitingPassword:
		return m.stepPassword(ctx, userID, c, text)
	default:
		return StepNone, ErrNoConversation
	}
}

func (m *Manager) stepPhone(ctx context.Context, userID int64, c *conversation, text string) (Step, error) {
	phone, ok := normalizePhone(text)
	if !ok {
		return StepRetryPhone, ErrPhoneInvalid
	}

	if c.flow == nil {
		flow, err := m.dialer.Dial(ctx)
		if err != nil {
			m.drop(userID, c)
			return StepAborted, errors.Wrap(err, "dial")
		}
		c.flow = flow
	}

	hash, err := c.flow.SendCode(ctx, phone)
	switch {
	case err == nil:
	case errors.Is(err, ErrPhoneInvalid):
		// Платформа отвергла номер: диалог сворачивается целиком, временный
		// клиент освобождается. Повтор начинается заново с /login.
		m.drop(userID, c)
		return StepAborted, ErrPhoneInvalid
	default:
		m.drop(userID, c)
		return StepAborted, errors.Wrap(err, "send code")
	}

	c.phone = phone
	c.codeHash = hash
	c.state = StateAwaitingCode
	return StepAskCode, nil
}

func (m *Manager) stepCode(ctx context.Context, userID int64, c *conversation, text string) (Step, error) {
	code := normalizeCode(text)

	err := c.flow.SignIn(ctx, c.phone, c.codeHash, code)
	switch {
	case err == nil:
		return m.finish(ctx, userID, c)
	case errors.Is(err, ErrPasswordNeeded):
		c.attempts = 0
		c.state = StateAwaitingPassword
		return StepAskPassword, nil
	case errors.Is(err, ErrCodeInvalid):
		c.attempts++
		if c.attempts >= maxAttempts {
			m.drop(userID, c)
			return StepAborted, ErrTooManyAttempts
		}
		return StepRetryCode, ErrCodeInvalid
	case errors.Is(err, ErrCodeExpired):
		m.drop(userID, c)
		return StepAborted, ErrCodeExpired
	default:
		m.drop(userID, c)
		return StepAborted, errors.Wrap(err, "sign in")
	}
}

func (m *Manager) stepPassword(ctx context.Context, userID int64, c *conversation, text string) (Step, error) {
	err := c.flow.Password(ctx, strings.TrimSpace(text))
	switch {
	case err == nil:
		return m.finish(ctx, userID, c)
	case errors.Is(err, ErrPasswordInvalid):
		c.attempts++
		if c.attempts >= maxAttempts {
			m.drop(userID, c)
			return StepAborted, ErrTooManyAttempts
		}
		return StepRetryPassword, ErrPasswordInvalid
	default:
		m.drop(userID, c)
		return StepAborted, errors.Wrap(err, "check password")
	}
}

// finish экспортирует учётные данные, сохраняет их и закрывает диалог.
func (m *Manager) finish(ctx context.Context, userID int64, c *conversation) (Step, error) {
	credential, err := c.flow.Export(ctx)
	if err != nil {
		m.drop(userID, c)
		return StepAborted, errors.Wrap(err, "export session")
	}
	if err := m.sessions.SaveSession(userID, credential); err != nil {
		m.drop(userID, c)
		return StepAborted, errors.Wrap(err, "save session")
	}
	m.drop(userID, c)
	return StepDone, nil
}

// drop удаляет диалог из карты и освобождает соединение. Вызывается с уже
// взятым c.mu.
func (m *Manager) drop(userID int64, c *conversation) {
	m.mu.Lock()
	delete(m.convs, userID)
	m.mu.Unlock()
	c.release()
}

// SweepStale закрывает диалоги, простоявшие дольше ttl. Запускается
// периодически из жизненного цикла приложения.
func (m *Manager) SweepStale() int {
	deadline := m.now().Add(-m.ttl)

	m.mu.Lock()
	var stale []*conversation
	for id, c := range m.convs {
		if c.started.Before(deadline) {
			stale = append(stale, c)
			delete(m.convs, id)
			logger.Debugf("login: sweeping stale conversation for %d", id)
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		c.mu.Lock()
		c.release()
		c.mu.Unlock()
	}
	return len(stale)
}

// release закрывает сетевое соединение диалога. Вызывается с взятым c.mu.
func (c *conversation) release() {
	if c.flow != nil {
		c.flow.Close()
		c.flow = nil
	}
	c.state = StateIdle
}

func stepFor(s State) Step {
	switch s {
	case StateAwaitingPhone:
		return StepAskPhone
	case StateAwaitingCode:
		return StepAskCode
	case StateAwaitingPassword:
		return StepAskPassword
	default:
		return StepNone
	}
}

// normalizePhone приводит номер к виду "+цифры". Допускает пробелы, скобки и
// дефисы в пользовательском вводе.
func normalizePhone(text string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	phone := b.String()
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	return phone, true
}

// normalizeCode убирает разделители, которые пользователи вставляют в код,
// чтобы Telegram не сжёг его в исходном сообщении.
func normalizeCode(text string) string {
	return strings.NewReplacer(" ", "", "-", "", ".", "").Replace(strings.TrimSpace(text))
}
