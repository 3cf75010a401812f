// Package gate — цепочка предикатов допуска перед передачей. Порядок проверок
// фиксирован: согласие с условиями, обязательная подписка, бан и квота, показ
// рекламы. Первый сработавший отказ завершает цепочку; счётчики при отказе не
// меняются.
package gate

import (
	"context"

	"github.com/go-faster/errors"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/ads"
	"telegram-downloader/internal/domain/quota"
	"telegram-downloader/internal/infra/logger"
)

// Reason — причина отказа в допуске.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTerms
	ReasonNotSubscribed
	ReasonBanned
	ReasonQuota
)

// Decision — результат прохождения цепочки.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Channel — юзернейм канала обязательной подписки, заполняется при
	// ReasonNotSubscribed.
	Channel string
	// Ad — объявление для показа перед передачей, если ShowAd истинно.
	Ad     ads.Ad
	ShowAd bool
}

// Membership проверяет членство пользователя в канале обязательной подписки.
// Реализуется телеграм-слоем через ChannelsGetParticipant.
type Membership interface {
	IsMember(ctx context.Context, channel string, userID int64) (bool, error)
}

// ForceSubSource отдаёт настроенный канал обязательной подписки. Пустая строка
// означает, что проверка выключена.
type ForceSubSource interface {
	ForceSubChannel() (string, error)
}

// Pipeline — собранная цепочка допуска.
type Pipeline struct {
	accounts *account.Service
	ledger   *quota.Ledger
	member   Membership
	forceSub ForceSubSource
	ads      *ads.Service
}

// NewPipeline собирает цепочку. ads может быть nil, тогда реклама не
// показывается.
func NewPipeline(accounts *account.Service, ledger *quota.Ledger, member Membership, forceSub ForceSubSource, adSvc *ads.Service) *Pipeline {
	return &Pipeline{accounts: accounts, ledger: ledger, member: member, forceSub: forceSub, ads: adSvc}
}

// Check прогоняет пользователя через цепочку. Ошибка возвращается только при
// инфраструктурных сбоях; бизнес-отказы приходят в Decision.
func (p *Pipeline) Check(ctx context.Context, userID int64) (Decision, error) {
	u, err := p.accounts.Get(userID)
	if err != nil {
		return Decision{}, errors.Wrap(err, "load account")
	}

	if !u.IsAgreedTerms {
		return Decision{Reason: ReasonTerms}, nil
	}

	// Обязательную подписку обходит только персонал; премиум наравне со
	// всеми обязан состоять в канале.
	staff := u.Role == account.RoleAdmin || u.Role == account.RoleOwner
	if !staff {
		if refusal, checked := p.checkForceSub(ctx, userID); checked {
			return refusal, nil
		}
	}

	if err := p.ledger.Check(userID); err != nil {
		switch {
		case errors.Is(err, quota.ErrBanned):
			return Decision{Reason: ReasonBanned}, nil
		case errors.Is(err, quota.ErrExceeded):
			return Decision{Reason: ReasonQuota}, nil
		default:
			return Decision{}, errors.Wrap(err, "check quota")
		}
	}

	d := Decision{Allowed: true}
	if !u.Role.Privileged() && p.ads != nil {
		if ad, ok := p.ads.Next(ctx, userID); ok {
			d.Ad, d.ShowAd = ad, true
		}
	}
	return d, nil
}

// checkForceSub возвращает (отказ, true), если подписка обязательна и её нет.
// Сбой проверки членства трактуется в пользу пользователя: неработающая
// проверка не должна останавливать бота.
func (p *Pipeline) checkForceSub(ctx context.Context, userID int64) (Decision, bool) {
	channel, err := p.forceSub.ForceSubChannel()
	if err != nil {
		logger.Warnf("gate: read force-sub setting: %v", err)
		return Decision{}, false
	}
	if channel == "" {
		return Decision{}, false
	}

	ok, err := p.member.IsMember(ctx, channel, userID)
	if err != nil {
		logger.Warnf("gate: membership check for %d in %s: %v", userID, channel, err)
		return Decision{}, false
	}
	if !ok {
		return Decision{Reason: ReasonNotSubscribed, Channel: channel}, true
	}
	return Decision{}, false
}
