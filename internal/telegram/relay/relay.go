// Package relay — телеграмная реализация сессий передачи. Выбирает учётную
// запись для чтения источника (бот для публичных вещательных каналов,
// пользовательская сессия для приватных каналов и супергрупп), читает
// медиагруппы и доставляет их в чат пользователя: быстрым копированием через
// forward с DropAuthor, а при запрете пересылки скачиванием и перезаливкой.
package relay

import (
	"context"
	"math/rand"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-downloader/internal/domain/links"
	"telegram-downloader/internal/domain/transfer"
	"telegram-downloader/internal/infra/logger"
	"telegram-downloader/internal/telegram/peersmgr"
	tdlsession "telegram-downloader/internal/telegram/session"
	"telegram-downloader/internal/telegram/userclient"
)

// warmupDialogLimit — сколько диалогов пользовательской сессии подтягивается
// для наполнения кэша пиров access-hash'ами.
const warmupDialogLimit = 100

// Options — зависимости и параметры фабрики сессий.
type Options struct {
	BotAPI      *tg.Client
	Peers       *peersmgr.Service
	APIID       int
	APIHash     string
	ThrottleRPS int
	TestDC      bool
	// DumpChannel возвращает сырой идентификатор dump-канала; ok=false,
	// когда зеркалирование выключено.
	DumpChannel func() (int64, bool)
	// MemoryLimit — порог размера файла, до которого перекачка идёт через
	// память, без временного файла на диске.
	MemoryLimit int64
	// ScratchDir — каталог временных файлов для крупных перекачек.
	ScratchDir string
}

// Opener реализует transfer.Opener поверх gotd.
type Opener struct {
	opts Options
}

var _ transfer.Opener = (*Opener)(nil)

// NewOpener собирает фабрику сессий.
func NewOpener(opts Options) *Opener {
	return &Opener{opts: opts}
}

// Open разрешает источник и цель доставки, при необходимости поднимая
// пользовательского клиента. Возвращённую сессию обязательно закрывать.
func (o *Opener) Open(ctx context.Context, userID int64, target links.Target, credential string) (transfer.Session, error) {
	userPeer, err := o.opts.Peers.Mgr.ResolveUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve recipient %d", userID)
	}

	s := &source{
		botAPI:   o.opts.BotAPI,
		user:     userPeer.InputPeer(),
		userID:   userID,
		target:   target,
		memLimit: o.opts.MemoryLimit,
		dir:      o.opts.ScratchDir,
	}

	if o.opts.DumpChannel != nil {
		if rawID, ok := o.opts.DumpChannel(); ok {
			if input, _, dumpErr := o.opts.Peers.ResolveChannelID(ctx, rawID); dumpErr == nil {
				s.dump = &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash}
			} else {
				logger.Warnf("relay: dump channel %d unavailable: %v", rawID, dumpErr)
			}
		}
	}

	if err := o.attachSource(ctx, s, target, credential); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// attachSource выбирает читающую сессию и разрешает канал источника.
func (o *Opener) attachSource(ctx context.Context, s *source, target links.Target, credential string) error {
	if target.Private {
		uc, mgr, err := o.dialUser(ctx, credential)
		if err != nil {
			return err
		}
		s.uc = uc
		s.reader = uc.API()

		channel, err := mgr.ResolveChannelID(ctx, links.RawChannelID(target.ChatID))
		if err != nil {
			return errors.Wrap(transfer.ErrSourceUnavailable, err.Error())
		}
		s.channel = channel.Raw().AsInput()
		return nil
	}

	input, kind, err := o.opts.Peers.ResolveChannel(ctx, target.Handle)
	switch {
	case err == nil && kind == peersmgr.KindBroadcast:
		s.reader = o.opts.BotAPI
		s.botReads = true
		s.channel = input
		return nil
	case errors.Is(err, peersmgr.ErrNotChannel) || handleUnknown(err):
		return errors.Wrap(transfer.ErrSourceUnavailable, err.Error())
	case err != nil:
		// Классификация ботом не удалась, но имя может быть видно
		// пользовательской сессии. Падаем на её путь чтения.
		logger.Debugf("relay: classify %q via bot: %v", target.Handle, err)
	}

	// Супергруппа либо неклассифицированный источник: историю читает
	// пользовательская сессия.
	uc, mgr, err := o.dialUser(ctx, credential)
	if err != nil {
		return err
	}
	s.uc = uc
	s.reader = uc.API()

	peer, err := mgr.ResolveDomain(ctx, target.Handle)
	if err != nil {
		return errors.Wrap(transfer.ErrSourceUnavailable, err.Error())
	}
	channel, ok := peer.(peers.Channel)
	if !ok {
		return transfer.ErrSourceUnavailable
	}
	s.channel = channel.Raw().AsInput()
	return nil
}

// dialUser поднимает клиента по сохранённой сессии и прогревает кэш пиров
// списком диалогов, чтобы приватные каналы разрешались по access hash.
func (o *Opener) dialUser(ctx context.Context, credential string) (*userclient.Client, *peers.Manager, error) {
	if credential == "" {
		return nil, nil, transfer.ErrLoginRequired
	}
	storage, err := tdlsession.Storage(credential)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode credential")
	}

	uc, err := userclient.Dial(ctx, userclient.Options{
		APIID:          o.opts.APIID,
		APIHash:        o.opts.APIHash,
		SessionStorage: storage,
		ThrottleRPS:    o.opts.ThrottleRPS,
		TestDC:         o.opts.TestDC,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial user session")
	}

	mgr := (peers.Options{}).Build(uc.API())
	if err := warmDialogs(ctx, uc.API(), mgr); err != nil {
		logger.Debugf("relay: dialogs warmup: %v", err)
	}
	return uc, mgr, nil
}

// warmDialogs наполняет менеджер пиров сущностями из свежих диалогов сессии.
func warmDialogs(ctx context.Context, api *tg.Client, mgr *peers.Manager) error {
	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      warmupDialogLimit,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return errors.Wrap(err, "get dialogs")
	}

	var users []tg.UserClass
	var chats []tg.ChatClass
	switch v := res.(type) {
	case *tg.MessagesDialogs:
		users, chats = v.Users, v.Chats
	case *tg.MessagesDialogsSlice:
		users, chats = v.Users, v.Chats
	default:
		return nil
	}
	return mgr.Apply(ctx, users, chats)
}

func randomIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = rand.Int63()
	}
	return ids
}

// forwardRestricted распознаёт коды, после которых копирование пересылкой
// бессмысленно и нужна перезаливка.
func forwardRestricted(err error) bool {
	return tgerr.Is(err, "CHAT_FORWARDS_RESTRICTED", "CHAT_ADMIN_REQUIRED", "CHANNEL_PRIVATE")
}

// handleUnknown распознаёт коды, после которых повторное разрешение другой
// сессией бессмысленно: такого имени не существует.
func handleUnknown(err error) bool {
	return tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID")
}
