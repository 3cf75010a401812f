// Пакет links разбирает текстовые ссылки t.me на сообщения и приводит их к
// структурированной цели: ссылка на чат, id сообщения, признак приватности.
// Числовые id приватных каналов отображаются в платформенную конвенцию
// внутренних id супергрупп/каналов (префикс -100). Классификация типа чата
// (канал или группа) — отдельный сетевой шаг и живёт в адаптере пиров.
package links

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidLink — ссылка не распознана ни одним из поддерживаемых форматов.
var ErrInvalidLink = errors.New("links: invalid message link")

// Target — распознанная цель: либо публичный хэндл, либо внутренний id чата.
type Target struct {
	// Handle — username чата без @; заполнен только для публичных ссылок.
	Handle string
	// ChatID — внутренний id (-100-конвенция); заполнен только для приватных ссылок.
	ChatID int64
	// MsgID — id сообщения внутри чата.
	MsgID int
	// TopicID — id топика для форумных ссылок; 0, если сегмент отсутствует.
	TopicID int
	// Private — ссылка вида t.me/c/..., доступная только участникам.
	Private bool
}

// Поддерживаемые формы ссылок. Порядок важен: сначала наиболее специфичные
// (приватные и топиковые) шаблоны, чтобы t.me/c/... не разобрался как
// публичный хэндл "c". Хвост (\b|$|[?#]) отсекает query-параметры (?single).
var (
	rePrivateTopic = regexp.MustCompile(`t\.me/c/(\d+)/(\d+)/(\d+)(?:$|[?#&/\s])`)
	rePrivate      = regexp.MustCompile(`t\.me/c/(\d+)/(\d+)(?:$|[?#&/\s])`)
	rePublicTopic  = regexp.MustCompile(`t\.me/([A-Za-z][A-Za-z0-9_]{2,})/(\d+)/(\d+)(?:$|[?#&/\s])`)
	rePublic       = regexp.MustCompile(`t\.me/([A-Za-z][A-Za-z0-9_]{2,})/(\d+)(?:$|[?#&/\s])`)
)

// InternalID переводит «сырой» числовой id из ссылки t.me/c/<id>/... во
// внутренний id канала/супергруппы (конвенция -100-префикса).
func InternalID(raw string) (int64, error) {
	id, err := strconv.ParseInt("-100"+raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidLink
	}
	return id, nil
}

// RawChannelID — обратное преобразование: из внутреннего -100-id в
// положительный id канала, который принимает MTProto API.
func RawChannelID(internal int64) int64 {
	const marker = int64(-1000000000000)
	if internal <= marker {
		return -internal + marker
	}
	return internal
}

// URL собирает каноническую ссылку на сообщение msgID того же чата, что и
// цель. msgID <= 0 означает «то сообщение, на которое указывала сама цель».
func (t Target) URL(msgID int) string {
	if msgID <= 0 {
		msgID = t.MsgID
	}
	if t.Private {
		return fmt.Sprintf("https://t.me/c/%d/%d", RawChannelID(t.ChatID), msgID)
	}
	return fmt.Sprintf("https://t.me/%s/%d", t.Handle, msgID)
}

// Parse разбирает ссылку на сообщение. Неоднозначность решается в пользу
// наиболее специфичного шаблона (длиннейшее совпадение с максимумом сегментов).
func Parse(raw string) (Target, error) {
	if m := rePrivateTopic.FindStringSubmatch(raw + "\n"); m != nil {
		chatID, err := InternalID(m[1])
		if err != nil {
			return Target{}, err
		}
		topic, _ := strconv.Atoi(m[2])
		msgID, err := strconv.Atoi(m[3])
		if err != nil || msgID <= 0 {
			return Target{}, ErrInvalidLink
		}
		return Target{ChatID: chatID, TopicID: topic, MsgID: msgID, Private: true}, nil
	}

	if m := rePrivate.FindStringSubmatch(raw + "\n"); m != nil {
		chatID, err := InternalID(m[1])
		if err != nil {
			return Target{}, err
		}
		msgID, err := strconv.Atoi(m[2])
		if err != nil || msgID <= 0 {
			return Target{}, ErrInvalidLink
		}
		return Target{ChatID: chatID, MsgID: msgID, Private: true}, nil
	}

	if m := rePublicTopic.FindStringSubmatch(raw + "\n"); m != nil {
		topic, _ := strconv.Atoi(m[2])
		msgID, err := strconv.Atoi(m[3])
		if err != nil || msgID <= 0 {
			return Target{}, ErrInvalidLink
		}
		return Target{Handle: m[1], TopicID: topic, MsgID: msgID}, nil
	}

	if m := rePublic.FindStringSubmatch(raw + "\n"); m != nil {
		msgID, err := strconv.Atoi(m[2])
		if err != nil || msgID <= 0 {
			return Target{}, ErrInvalidLink
		}
		return Target{Handle: m[1], MsgID: msgID}, nil
	}

	return Target{}, ErrInvalidLink
}

// Contains сообщает, встречается ли в тексте хоть одна ссылка на сообщение.
// Используется маршрутизатором, чтобы отличить ссылку от обычного текста.
func Contains(text string) bool {
	_, err := Parse(text)
	return err == nil
}
