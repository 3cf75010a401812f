// Package bot — слой общения с пользователем: маршрутизация входящих
// сообщений, команды, запуск передач и ответы. Вся доменная логика живёт
// уровнем ниже; здесь только разбор текста, выбор обработчика и тексты
// ответов.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/ads"
	"telegram-downloader/internal/domain/gate"
	"telegram-downloader/internal/domain/links"
	"telegram-downloader/internal/domain/login"
	"telegram-downloader/internal/domain/plans"
	"telegram-downloader/internal/domain/quota"
	"telegram-downloader/internal/domain/transfer"
	"telegram-downloader/internal/infra/concurrency"
	"telegram-downloader/internal/infra/logger"
	"telegram-downloader/internal/infra/store"
	"telegram-downloader/internal/support/debug"
	"telegram-downloader/internal/telegram/peersmgr"
)

// Options — зависимости и параметры бота.
type Options struct {
	API      *tg.Client
	Peers    *peersmgr.Service
	DB       *store.DB
	Accounts *account.Service
	Ledger   *quota.Ledger
	Gate     *gate.Pipeline
	Login    *login.Manager
	Orch     *transfer.Orchestrator
	Slots    *concurrency.Registry
	Ads      *ads.Service

	PaymentContact   string
	ProgressInterval time.Duration
	BroadcastRPS     float64
}

// Bot обрабатывает входящие личные сообщения.
type Bot struct {
	api      *tg.Client
	sender   *message.Sender
	peers    *peersmgr.Service
	db       *store.DB
	accounts *account.Service
	ledger   *quota.Ledger
	gate     *gate.Pipeline
	login    *login.Manager
	orch     *transfer.Orchestrator
	slots    *concurrency.Registry
	adSvc    *ads.Service
	plans    []plans.Plan

	paymentContact   string
	progressInterval time.Duration
	broadcastRPS     float64
}

// New собирает бота.
func New(opts Options) *Bot {
	rps := opts.BroadcastRPS
	if rps <= 0 {
		rps = 5
	}
	return &Bot{
		api:              opts.API,
		sender:           message.NewSender(opts.API),
		peers:            opts.Peers,
		db:               opts.DB,
		accounts:         opts.Accounts,
		ledger:           opts.Ledger,
		gate:             opts.Gate,
		login:            opts.Login,
		orch:             opts.Orch,
		slots:            opts.Slots,
		adSvc:            opts.Ads,
		plans:            plans.Default(),
		paymentContact:   opts.PaymentContact,
		progressInterval: opts.ProgressInterval,
		broadcastRPS:     rps,
	}
}

// Register подключает обработчики к диспетчеру апдейтов.
func (b *Bot) Register(d tg.UpdateDispatcher) {
	d.OnNewMessage(b.onNewMessage)
}

// onNewMessage — единственная точка входа: личные сообщения пользователей.
// Групповые чаты и собственные исходящие игнорируются.
func (b *Bot) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return nil
	}
	userID := peer.UserID
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return nil
	}
	debug.PrintMessage("in", msg)

	switch {
	case strings.HasPrefix(text, "/"):
		return b.handleCommand(ctx, e, u, userID, text)
	case b.login.Active(userID):
		return b.handleLoginInput(ctx, e, u, userID, text)
	case links.Contains(text):
		return b.handleLink(ctx, e, u, userID, text, 1)
	default:
		return b.reply(ctx, e, u, msgSendLink)
	}
}

// reply отвечает на входящее сообщение обычным текстом.
func (b *Bot) reply(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, text string) error {
	if _, err := b.sender.Reply(e, u).Text(ctx, text); err != nil {
		return errors.Wrap(err, "reply")
	}
	return nil
}

// sendStatus шлёт статусное сообщение и возвращает его идентификатор для
// последующих правок.
func (b *Bot) sendStatus(ctx context.Context, peer tg.InputPeerClass, text string) (int, error) {
	upd, err := b.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	})
	if err != nil {
		return 0, errors.Wrap(err, "send status")
	}
	id, ok := sentMessageID(upd)
	if !ok {
		return 0, errors.New("status message id missing in updates")
	}
	return id, nil
}

// editStatus правит ранее отправленное статусное сообщение. MESSAGE_NOT_MODIFIED
// и прочие мелкие отказы только логируются.
func (b *Bot) editStatus(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) {
	_, err := b.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      msgID,
		Message: text,
	})
	if err != nil {
		logger.Debugf("bot: edit status %d: %v", msgID, err)
	}
}

// userPeer разрешает input-пира пользователя через кэш пиров.
func (b *Bot) userPeer(ctx context.Context, userID int64) (tg.InputPeerClass, error) {
	p, err := b.peers.Mgr.ResolveUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve user %d", userID)
	}
	return p.InputPeer(), nil
}

// sendTo шлёт текст пользователю вне контекста ответа (рассылки, финальные
// статусы из горутин).
func (b *Bot) sendTo(ctx context.Context, peer tg.InputPeerClass, text string) error {
	_, err := b.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	})
	return err
}

// broadcastLimiter строит ограничитель темпа рассылки.
func (b *Bot) broadcastLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(b.broadcastRPS), 1)
}
