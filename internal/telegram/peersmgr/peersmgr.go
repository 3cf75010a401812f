// Package peersmgr — обёртка над gotd peers.Manager с персистентным кэшем на
// bbolt. Отвечает за разрешение публичных юзернеймов и известных каналов в
// input-пиры с access hash, а также за проверку членства пользователя в канале
// обязательной подписки.
package peersmgr

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.etcd.io/bbolt"

	"telegram-downloader/internal/infra/storage"
)

const (
	peersBucketName             = "peers"
	dbOpenTimeout               = time.Second
	dbFileMode      os.FileMode = storage.DefaultFilePerm
)

var peersBucketBytes = []byte(peersBucketName)

// ErrNotChannel — юзернейм указывает не на канал и не на супергруппу.
var ErrNotChannel = errors.New("peersmgr: peer is not a channel")

// ChannelKind различает вещательные каналы и супергруппы. От вида зависит,
// чьей сессией бот полезет в историю.
type ChannelKind int

const (
	KindBroadcast ChannelKind = iota
	KindSupergroup
)

// Service инкапсулирует менеджер пиров и bbolt-хранилище.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	api   *tg.Client
	Mgr   *peers.Manager
}

// New создаёт сервис пиров поверх bbolt и gotd peers.Manager.
func New(api *tg.Client, dbPath string) (*Service, error) {
	if api == nil {
		return nil, errors.New("peersmgr: api client is nil")
	}
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, errors.New("peersmgr: db path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "peersmgr: ensure dir")
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "peersmgr: open db")
	}

	return &Service{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
		api:   api,
		Mgr:   (peers.Options{}).Build(api),
	}, nil
}

// Close закрывает файл базы данных.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store возвращает персистентное хранилище пиров (для UpdateHook).
func (s *Service) Store() contribstorage.PeerStorage {
	return s.store
}

// ResolveChannel разрешает публичный юзернейм в input-канал. Вид канала нужен
// оркестратору: история вещательных каналов доступна боту, супергруппы
// требуют пользовательской сессии.
func (s *Service) ResolveChannel(ctx context.Context, handle string) (*tg.InputChannel, ChannelKind, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	peer, err := s.Mgr.ResolveDomain(ctx, handle)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "resolve %q", handle)
	}
	channel, ok := peer.(peers.Channel)
	if !ok {
		return nil, 0, ErrNotChannel
	}

	raw := channel.Raw()
	kind := KindSupergroup
	if raw.Broadcast {
		kind = KindBroadcast
	}
	return raw.AsInput(), kind, nil
}

// ResolveChannelID разрешает приватный канал по сырому идентификатору из
// t.me/c-ссылки. Срабатывает только когда канал уже известен кэшу пиров, то
// есть соответствующая сессия в нём состоит.
func (s *Service) ResolveChannelID(ctx context.Context, rawID int64) (*tg.InputChannel, ChannelKind, error) {
	channel, err := s.Mgr.ResolveChannelID(ctx, rawID)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "resolve channel %d", rawID)
	}
	raw := channel.Raw()
	kind := KindSupergroup
	if raw.Broadcast {
		kind = KindBroadcast
	}
	return raw.AsInput(), kind, nil
}

// IsMember проверяет членство пользователя в канале обязательной подписки.
// USER_NOT_PARTICIPANT — это штатное «не состоит», а не ошибка.
func (s *Service) IsMember(ctx context.Context, channel string, userID int64) (bool, error) {
	input, _, err := s.ResolveChannel(ctx, channel)
	if err != nil {
		return false, err
	}
	user, err := s.Mgr.ResolveUserID(ctx, userID)
	if err != nil {
		return false, errors.Wrapf(err, "resolve user %d", userID)
	}

	_, err = s.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     input,
		Participant: user.InputPeer(),
	})
	switch {
	case err == nil:
		return true, nil
	case tgerr.Is(err, "USER_NOT_PARTICIPANT"):
		return false, nil
	default:
		return false, errors.Wrap(err, "get participant")
	}
}
