// Package history — точечное чтение истории каналов: одно сообщение по
// идентификатору и сбор медиагруппы вокруг него. Читает тем RPC-клиентом,
// который передан, поэтому одинаково работает и под ботом, и под
// пользовательской сессией.
package history

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

// groupRadius — сколько соседних сообщений в обе стороны просматривается при
// сборе медиагруппы. Telegram ограничивает альбом десятью элементами, поэтому
// девяти соседей достаточно.
const groupRadius = 9

// ErrNotFound — сообщение отсутствует либо недоступно.
var ErrNotFound = errors.New("history: message not found")

// Message читает одно сообщение канала по идентификатору.
func Message(ctx context.Context, api *tg.Client, channel *tg.InputChannel, msgID int) (*tg.Message, error) {
	msgs, err := fetch(ctx, api, channel, []int{msgID})
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == msgID {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// GroupedSet собирает полную медиагруппу вокруг центрального сообщения.
// Сообщения без GroupedID возвращаются как группа из одного элемента.
// Результат отсортирован по возрастанию ID, так Telegram хранит альбомы.
func GroupedSet(ctx context.Context, api *tg.Client, channel *tg.InputChannel, center *tg.Message) ([]*tg.Message, error) {
	if center.GroupedID == 0 {
		return []*tg.Message{center}, nil
	}

	ids := make([]int, 0, groupRadius*2+1)
	for id := center.ID - groupRadius; id <= center.ID+groupRadius; id++ {
		if id > 0 {
			ids = append(ids, id)
		}
	}

	msgs, err := fetch(ctx, api, channel, ids)
	if err != nil {
		return nil, err
	}

	group := make([]*tg.Message, 0, 10)
	for _, m := range msgs {
		if m.GroupedID == center.GroupedID {
			group = append(group, m)
		}
	}
	if len(group) == 0 {
		return []*tg.Message{center}, nil
	}
	return group, nil
}

// fetch выполняет ChannelsGetMessages и разворачивает ответ в плоский список
// настоящих сообщений, отбрасывая заглушки MessageEmpty.
func fetch(ctx context.Context, api *tg.Client, channel *tg.InputChannel, ids []int) ([]*tg.Message, error) {
	req := &tg.ChannelsGetMessagesRequest{Channel: channel}
	for _, id := range ids {
		req.ID = append(req.ID, &tg.InputMessageID{ID: id})
	}

	res, err := api.ChannelsGetMessages(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "get channel messages")
	}

	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	case *tg.MessagesMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	default:
		return nil, errors.Errorf("unexpected response type %T", res)
	}

	msgs := make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs, nil
}
