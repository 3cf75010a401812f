// Вспомогательный разбор ответов Telegram API на отправку сообщений.

package bot

import (
	"math/rand"

	"github.com/gotd/td/tg"
)

func randomID() int64 { return rand.Int63() }

// sentMessageID достаёт идентификатор только что отправленного сообщения из
// ответа MessagesSendMessage.
func sentMessageID(u tg.UpdatesClass) (int, bool) {
	switch v := u.(type) {
	case *tg.UpdateShortSentMessage:
		return v.ID, true
	case *tg.Updates:
		for _, upd := range v.Updates {
			if m, ok := upd.(*tg.UpdateMessageID); ok {
				return m.ID, true
			}
		}
	case *tg.UpdatesCombined:
		for _, upd := range v.Updates {
			if m, ok := upd.(*tg.UpdateMessageID); ok {
				return m.ID, true
			}
		}
	}
	return 0, false
}
