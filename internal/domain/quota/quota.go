// Пакет quota — учёт дневных лимитов загрузок. Счётчики лечатся лениво на пути
// чтения (смена календарного дня UTC обнуляет счётчик), просроченный премиум
// понижается до free ровно один раз при первом обращении после даты истечения.
// Привилегированные роли (premium, admin, owner) безлимитны.
package quota

import (
	"errors"
	"fmt"
	"time"

	"telegram-downloader/internal/domain/account"
)

// ErrExceeded — дневной лимит исчерпан. Пользователю показывается предложение
// апгрейда; счётчик при отказе не меняется.
var ErrExceeded = errors.New("quota: daily limit reached")

// ErrBanned — пользователь забанен; любые операции отклоняются.
var ErrBanned = errors.New("quota: user is banned")

// Accounts — часть контракта слоя учётных записей, нужная леджеру: чтение с
// created-on-first-contact и атомарный read-modify-write.
type Accounts interface {
	Get(id int64) (*account.User, error)
	Mutate(id int64, fn func(*account.User) error) (*account.User, error)
}

// Ledger — леджер квот. Все операции идемпотентны относительно смены дня:
// повторные проверки в один день не сбрасывают счётчик дважды.
type Ledger struct {
	accounts  Accounts
	freeLimit int
	now       func() time.Time
}

// NewLedger собирает леджер. freeLimit — дневной лимит роли free; nowFn
// подменяется в тестах (nil — time.Now).
func NewLedger(accounts Accounts, freeLimit int, nowFn func() time.Time) *Ledger {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{accounts: accounts, freeLimit: freeLimit, now: nowFn}
}

// Check решает, разрешена ли пользователю ещё одна загрузка.
// Путь чтения самовосстанавливающийся: внутри одной атомарной мутации
// выполняется ленивое понижение премиума и сброс устаревшего счётчика, затем
// проверка лимита. Возвращает человекочитаемую причину отказа через ошибку:
// ErrBanned, ErrExceeded либо инфраструктурную ошибку хранилища.
func (l *Ledger) Check(id int64) error {
	today := account.DateKey(l.now())
	u, err := l.accounts.Mutate(id, func(u *account.User) error {
		u.DemoteIfExpired(today)
		u.ResetDayIfStale(today)
		return nil
	})
	if err != nil {
		return fmt.Errorf("quota check %d: %w", id, err)
	}
	if u.IsBanned {
		return ErrBanned
	}
	if u.Role.Privileged() {
		return nil
	}
	if u.DownloadsToday >= l.freeLimit {
		return ErrExceeded
	}
	return nil
}

// Increment увеличивает дневной счётчик на count доставленных элементов.
// Ровно один инкремент на доставку: Check не меняет счётчик, поэтому связка
// Check → доставка → Increment не двоит учёт.
func (l *Ledger) Increment(id int64, count int) error {
	if count <= 0 {
		return nil
	}
	today := account.DateKey(l.now())
	_, err := l.accounts.Mutate(id, func(u *account.User) error {
		u.ResetDayIfStale(today)
		u.DownloadsToday += count
		return nil
	})
	if err != nil {
		return fmt.Errorf("quota increment %d: %w", id, err)
	}
	return nil
}

// Remaining возвращает остаток на сегодня и флаг безлимита.
func (l *Ledger) Remaining(id int64) (int, bool, error) {
	today := account.DateKey(l.now())
	u, err := l.accounts.Mutate(id, func(u *account.User) error {
		u.DemoteIfExpired(today)
		u.ResetDayIfStale(today)
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("quota remaining %d: %w", id, err)
	}
	if u.Role.Privileged() {
		return 0, true, nil
	}
	remaining := l.freeLimit - u.DownloadsToday
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false, nil
}

// Limit возвращает настроенный дневной лимит роли free (для текстов ответов).
func (l *Ledger) Limit() int { return l.freeLimit }
