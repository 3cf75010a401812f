// Package transfer — оркестратор доставки медиа из t.me-ссылок. Порядок
// предусловий фиксирован: слот пользователя и глобальный слот, открытие сессии
// источника, остаток квоты. Дальше идёт поэлементная доставка с опросом флага
// отмены между элементами; счётчик квоты растёт строго на число доставленных
// элементов.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/links"
	"telegram-downloader/internal/domain/quota"
	"telegram-downloader/internal/infra/concurrency"
	"telegram-downloader/internal/infra/logger"
)

// Ошибки открытия источника.
var (
	// ErrLoginRequired — источник читается только пользовательской сессией,
	// а её нет.
	ErrLoginRequired = errors.New("transfer: user session required")
	// ErrSourceUnavailable — канал не найден либо сессия в нём не состоит.
	ErrSourceUnavailable = errors.New("transfer: source not accessible")
	// ErrNothingToSend — в сообщении нет ни медиа, ни текста.
	ErrNothingToSend = errors.New("transfer: nothing to transfer")
)

// Session — открытый источник: чтение медиагрупп и доставка элементов
// пользователю. Реализуется телеграм-слоем; в тестах подменяется фейком.
type Session interface {
	// Group возвращает полную медиагруппу, содержащую сообщение msgID.
	Group(ctx context.Context, msgID int) ([]Item, error)
	// Deliver доставляет элементы в чат пользователя, возвращает число
	// доставленных (при ошибке посреди группы оно меньше len(items)).
	Deliver(ctx context.Context, items []Item) (int, error)
	// Mirror зеркалирует доставленные элементы в dump-канал, best-effort.
	Mirror(ctx context.Context, items []Item)
	Close()
}

// ProgressAware — сессия, умеющая публиковать байтовый прогресс перекачек
// через репортёр заявки.
type ProgressAware interface {
	SetProgress(r *Reporter)
}

// Opener открывает сессию источника, выбирая подходящую учётную запись
// (бот для публичных вещательных каналов, пользовательская сессия для
// приватных каналов и супергрупп).
type Opener interface {
	Open(ctx context.Context, userID int64, target links.Target, credential string) (Session, error)
}

// Accounts — часть контракта учётных записей, нужная оркестратору.
type Accounts interface {
	Get(id int64) (*account.User, error)
}

// Request — одна заявка на передачу.
type Request struct {
	UserID int64
	Target links.Target
	// Count — число последовательных постов начиная с Target.MsgID
	// (для пакетного режима). Ноль трактуется как один.
	Count int
	// Progress получает статусные тексты; может быть nil.
	Progress *Reporter
}

// Result — итог передачи.
type Result struct {
	// Requested — сколько постов запрошено после обрезки по лимиту пакета.
	Requested int
	// Delivered — сколько элементов фактически доставлено.
	Delivered int
	// Cancelled — передача оборвана флагом отмены.
	Cancelled bool
	// Truncated — часть элементов не доставлена из-за остатка квоты.
	Truncated bool
}

// Orchestrator связывает слоты, квоты и телеграм-сессии.
type Orchestrator struct {
	accounts   Accounts
	ledger     *quota.Ledger
	slots      *concurrency.Registry
	opener     Opener
	batchLimit int
	timeout    time.Duration
}

// NewOrchestrator собирает оркестратор. batchLimit ограничивает размер
// пакетной заявки, timeout — жёсткий потолок длительности одной передачи.
func NewOrchestrator(
	accounts Accounts,
	ledger *quota.Ledger,
	slots *concurrency.Registry,
	opener Opener,
	batchLimit int,
	timeout time.Duration,
) *Orchestrator {
	if batchLimit < 1 {
		batchLimit = 1
	}
	return &Orchestrator{
		accounts:   accounts,
		ledger:     ledger,
		slots:      slots,
		opener:     opener,
		batchLimit: batchLimit,
		timeout:    timeout,
	}
}

// Run выполняет заявку. Ошибки слотов (ErrUserBusy, ErrServerBusy) и открытия
// источника (ErrLoginRequired, ErrSourceUnavailable) возвращаются как есть,
// бот превращает их в ответы пользователю. Слот освобождается на любом исходе.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	count := req.Count
	if count < 1 {
		count = 1
	}
	if count > o.batchLimit {
		count = o.batchLimit
	}

	if err := o.slots.TryAcquire(req.UserID); err != nil {
		return Result{}, err
	}
	defer o.slots.Release(req.UserID)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	u, err := o.accounts.Get(req.UserID)
	if err != nil {
		return Result{}, errors.Wrap(err, "load account")
	}

	sess, err := o.opener.Open(ctx, req.UserID, req.Target, u.PhoneSessionString)
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	if pa, ok := sess.(ProgressAware); ok && req.Progress != nil {
		pa.SetProgress(req.Progress)
	}

	remaining, unlimited, err := o.ledger.Remaining(req.UserID)
	if err != nil {
		return Result{}, errors.Wrap(err, "read quota")
	}

	res := Result{Requested: count}
	seen := make(map[int]struct{})

	for i := 0; i < count; i++ {
		if o.slots.CancelRequested(req.UserID) {
			res.Cancelled = true
			break
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		msgID := req.Target.MsgID + i
		if _, done := seen[msgID]; done {
			continue
		}

		items, gerr := sess.Group(ctx, msgID)
		if gerr != nil {
			// В пакетном режиме дыры в нумерации постов пропускаются,
			// одиночная заявка сразу отдаёт ошибку.
			if count > 1 {
				logger.Debugf("transfer: user %d: skip message %d: %v", req.UserID, msgID, gerr)
				continue
			}
			return res, gerr
		}
		for _, it := range items {
			seen[it.MsgID] = struct{}{}
		}

		if !unlimited {
			if remaining <= 0 {
				res.Truncated = true
				break
			}
			if len(items) > remaining {
				items = items[:remaining]
				res.Truncated = true
			}
		}

		if req.Progress != nil {
			req.Progress.Progress(fmt.Sprintf("Processing post %d of %d...", i+1, count))
		}

		n, derr := sess.Deliver(ctx, items)
		if n > 0 {
			res.Delivered += n
			remaining -= n
			if incErr := o.ledger.Increment(req.UserID, n); incErr != nil {
				logger.Errorf("transfer: user %d: increment quota: %v", req.UserID, incErr)
			}
			sess.Mirror(ctx, items[:n])
		}
		if derr != nil {
			return res, errors.Wrap(derr, "deliver")
		}
	}

	return res, nil
}
