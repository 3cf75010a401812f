// Package debug — утилиты отладочной печати входящих апдейтов. Молчит, пока
// уровень логирования выше debug; в проде от пакета остаётся только дешёвая
// проверка уровня.
package debug

import (
	"fmt"
	"unicode/utf8"

	"github.com/gotd/td/tg"
	"github.com/kr/pretty"

	"telegram-downloader/internal/infra/logger"
)

// textMaxLen ограничивает хвост текста в отладочной строке.
const textMaxLen = 50

// PrintMessage пишет компактную строку о входящем сообщении в лог уровня
// debug. Текст режется по рунам, чтобы не порвать UTF-8.
func PrintMessage(prefix string, msg *tg.Message) {
	if !logger.IsDebugEnabled() {
		return
	}

	text := msg.Message
	if utf8.RuneCountInString(text) > textMaxLen {
		runes := []rune(text)
		text = string(runes[:textMaxLen]) + "..."
	}

	var from string
	switch peer := msg.PeerID.(type) {
	case *tg.PeerUser:
		from = fmt.Sprintf("user %d", peer.UserID)
	case *tg.PeerChat:
		from = fmt.Sprintf("chat %d", peer.ChatID)
	case *tg.PeerChannel:
		from = fmt.Sprintf("channel %d", peer.ChannelID)
	default:
		from = fmt.Sprintf("%+v", peer)
	}

	logger.Debugf("[%s] %s > msg %d: %s", prefix, from, msg.ID, text)
}

// Dump печатает произвольную структуру в развёрнутом виде. Удобно для разовых
// разборов незнакомых ответов API.
func Dump(label string, v any) {
	if !logger.IsDebugEnabled() {
		return
	}
	logger.Debugf("%s: %# v", label, pretty.Formatter(v))
}
