// Открытая сессия источника: чтение медиагрупп, доставка копированием или
// перезаливкой, зеркалирование в dump-канал.

package relay

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"telegram-downloader/internal/domain/links"
	"telegram-downloader/internal/domain/transfer"
	"telegram-downloader/internal/infra/logger"
	"telegram-downloader/internal/infra/storage"
	"telegram-downloader/internal/telegram/history"
	"telegram-downloader/internal/telegram/userclient"
)

type source struct {
	botAPI  *tg.Client
	reader  *tg.Client
	channel *tg.InputChannel
	user    tg.InputPeerClass
	dump    tg.InputPeerClass
	uc      *userclient.Client

	userID int64
	target links.Target

	// botReads — источник читается самим ботом, значит доступно быстрое
	// копирование пересылкой.
	botReads bool
	memLimit int64
	dir      string

	progress *transfer.Reporter

	// delivered — id сообщений, созданных в чате пользователя последним
	// вызовом Deliver; из них собирается зеркало в dump-канал.
	delivered []int
}

var _ transfer.Session = (*source)(nil)
var _ transfer.ProgressAware = (*source)(nil)

// SetProgress подключает репортёр байтового прогресса перезаливок.
func (s *source) SetProgress(r *transfer.Reporter) { s.progress = r }

// Group читает сообщение и собирает его медиагруппу целиком.
func (s *source) Group(ctx context.Context, msgID int) ([]transfer.Item, error) {
	msg, err := history.Message(ctx, s.reader, s.channel, msgID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return nil, errors.Wrap(transfer.ErrSourceUnavailable, "message not found")
		}
		return nil, err
	}

	group, err := history.GroupedSet(ctx, s.reader, s.channel, msg)
	if err != nil {
		return nil, err
	}

	items := make([]transfer.Item, 0, len(group))
	for _, m := range group {
		if item, ok := transfer.Classify(m); ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil, transfer.ErrNothingToSend
	}
	return items, nil
}

// Deliver доставляет элементы в чат пользователя. Когда источник читает бот,
// сначала пробуется копирование пересылкой всей группы разом; на запрет
// пересылки идёт откат к поэлементной перезаливке.
func (s *source) Deliver(ctx context.Context, items []transfer.Item) (int, error) {
	s.delivered = s.delivered[:0]

	if s.botReads {
		err := s.copyByForward(ctx, items)
		if err == nil {
			return len(items), nil
		}
		if !forwardRestricted(err) {
			return 0, err
		}
		logger.Debugf("relay: forward restricted, falling back to reupload: %v", err)
	}

	delivered := 0
	for _, item := range items {
		if err := s.reupload(ctx, item); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Mirror зеркалирует доставленные копии в dump-канал: пересылает их из чата
// пользователя и подписывает отправителем и исходной ссылкой. Копии уже лежат
// в чате с ботом, поэтому зеркало работает на обоих путях доставки без
// повторной перезаливки.
func (s *source) Mirror(ctx context.Context, items []transfer.Item) {
	if s.dump == nil || len(s.delivered) == 0 {
		return
	}
	_, err := s.botAPI.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: s.user,
		ToPeer:   s.dump,
		ID:       s.delivered,
		RandomID: randomIDs(len(s.delivered)),
	})
	if err != nil {
		logger.Warnf("relay: mirror to dump channel: %v", err)
		return
	}

	srcID := 0
	if len(items) > 0 {
		srcID = items[0].MsgID
	}
	_, err = s.botAPI.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:      s.dump,
		Message:   fmt.Sprintf("From User: %d\nLink: %s", s.userID, s.target.URL(srcID)),
		RandomID:  randomIDs(1)[0],
		NoWebpage: true,
	})
	if err != nil {
		logger.Warnf("relay: tag dump copy: %v", err)
	}
}

// Close гасит пользовательского клиента, если он поднимался.
func (s *source) Close() {
	if s.uc != nil {
		s.uc.Close()
		s.uc = nil
	}
}

// copyByForward копирует группу пересылкой без атрибуции источника.
func (s *source) copyByForward(ctx context.Context, items []transfer.Item) error {
	ids := make([]int, len(items))
	for i, item := range items {
		ids[i] = item.MsgID
	}
	updates, err := s.botAPI.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: &tg.InputPeerChannel{
			ChannelID:  s.channel.ChannelID,
			AccessHash: s.channel.AccessHash,
		},
		ToPeer:     s.user,
		ID:         ids,
		RandomID:   randomIDs(len(ids)),
		DropAuthor: true,
	})
	if err != nil {
		return err
	}
	s.delivered = append(s.delivered, sentIDs(updates)...)
	return nil
}

// reupload перекачивает один элемент: скачивание читающей сессией и выгрузка
// ботом. Файлы меньше порога идут через память, крупные — через временный
// файл, который удаляется в любом случае.
func (s *source) reupload(ctx context.Context, item transfer.Item) error {
	if item.Kind == transfer.KindText {
		return s.sendText(ctx, item.Caption)
	}

	up := uploader.NewUploader(s.botAPI)
	var file tg.InputFileClass

	if item.Size() <= s.memLimit {
		var buf bytes.Buffer
		if _, err := downloader.NewDownloader().Download(s.reader, item.Location()).Stream(ctx, &buf); err != nil {
			return errors.Wrap(err, "download to memory")
		}
		uploaded, err := up.Upload(ctx, uploader.NewUpload(item.Filename(), bytes.NewReader(buf.Bytes()), int64(buf.Len())))
		if err != nil {
			return errors.Wrap(err, "upload from memory")
		}
		file = uploaded
	} else {
		if s.progress != nil {
			fp := s.progress.File(item.Filename(), item.Size())
			up = up.WithProgress(uploadProgress{fp: fp})
		}
		if err := storage.EnsureDirPath(s.dir); err != nil {
			return errors.Wrap(err, "ensure scratch dir")
		}
		path := filepath.Join(s.dir, fmt.Sprintf("%d_%s", item.MsgID, item.Filename()))
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warnf("relay: remove scratch file %s: %v", path, err)
			}
		}()

		if _, err := downloader.NewDownloader().Download(s.reader, item.Location()).ToPath(ctx, path); err != nil {
			return errors.Wrap(err, "download to file")
		}
		uploaded, err := up.FromPath(ctx, path)
		if err != nil {
			return errors.Wrap(err, "upload from file")
		}
		file = uploaded
	}

	return s.sendMedia(ctx, item, file)
}

// uploadProgress переводит чанковые колбэки аплоадера в байтовый прогресс.
type uploadProgress struct {
	fp *transfer.ByteProgress
}

func (p uploadProgress) Chunk(_ context.Context, state uploader.ProgressState) error {
	p.fp.Update(state.Uploaded)
	return nil
}

func (s *source) sendText(ctx context.Context, text string) error {
	updates, err := s.botAPI.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:      s.user,
		Message:   text,
		RandomID:  randomIDs(1)[0],
		NoWebpage: true,
	})
	if err != nil {
		return errors.Wrap(err, "send text")
	}
	s.delivered = append(s.delivered, sentIDs(updates)...)
	return nil
}

func (s *source) sendMedia(ctx context.Context, item transfer.Item, file tg.InputFileClass) error {
	var media tg.InputMediaClass
	switch item.Kind {
	case transfer.KindPhoto:
		media = &tg.InputMediaUploadedPhoto{File: file}
	case transfer.KindDocument:
		media = &tg.InputMediaUploadedDocument{
			File:       file,
			MimeType:   item.Document.MimeType,
			Attributes: item.Document.Attributes,
		}
	default:
		return errors.Errorf("unexpected media kind %d", item.Kind)
	}

	updates, err := s.botAPI.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     s.user,
		Media:    media,
		Message:  item.Caption,
		RandomID: randomIDs(1)[0],
	})
	if err != nil {
		return errors.Wrap(err, "send media")
	}
	s.delivered = append(s.delivered, sentIDs(updates)...)
	return nil
}

// sentIDs извлекает из ответа API id сообщений, созданных в целевом чате.
// Свежим копиям соответствуют записи UpdateMessageID; когда их нет (короткая
// форма), id берётся из самого ответа либо из UpdateNewMessage.
func sentIDs(updates tg.UpdatesClass) []int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return []int{u.ID}
	case *tg.Updates:
		return updateIDs(u.Updates)
	case *tg.UpdatesCombined:
		return updateIDs(u.Updates)
	}
	return nil
}

func updateIDs(updates []tg.UpdateClass) []int {
	var ids, fallback []int
	for _, upd := range updates {
		switch v := upd.(type) {
		case *tg.UpdateMessageID:
			ids = append(ids, v.ID)
		case *tg.UpdateNewMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				fallback = append(fallback, m.ID)
			}
		}
	}
	if len(ids) == 0 {
		return fallback
	}
	return ids
}
