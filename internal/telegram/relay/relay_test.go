package relay

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

func TestSentIDs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		updates tg.UpdatesClass
		want    []int
	}{
		{
			name:    "shortSent",
			updates: &tg.UpdateShortSentMessage{ID: 7},
			want:    []int{7},
		},
		{
			// Полный ответ несёт и UpdateMessageID, и UpdateNewMessage на
			// каждое сообщение; id не должны задваиваться.
			name: "fullUpdatesNoDoubleCount",
			updates: &tg.Updates{Updates: []tg.UpdateClass{
				&tg.UpdateMessageID{ID: 11},
				&tg.UpdateMessageID{ID: 12},
				&tg.UpdateNewMessage{Message: &tg.Message{ID: 11}},
				&tg.UpdateNewMessage{Message: &tg.Message{ID: 12}},
			}},
			want: []int{11, 12},
		},
		{
			name: "fallbackToNewMessage",
			updates: &tg.Updates{Updates: []tg.UpdateClass{
				&tg.UpdateNewMessage{Message: &tg.Message{ID: 21}},
			}},
			want: []int{21},
		},
		{
			name:    "unknownShape",
			updates: &tg.UpdatesTooLong{},
			want:    nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := sentIDs(tc.updates)
			if len(got) != len(tc.want) {
				t.Fatalf("sentIDs = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("sentIDs = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	if !handleUnknown(tgerr.New(400, "USERNAME_NOT_OCCUPIED")) {
		t.Error("USERNAME_NOT_OCCUPIED must be terminal")
	}
	if !handleUnknown(tgerr.New(400, "USERNAME_INVALID")) {
		t.Error("USERNAME_INVALID must be terminal")
	}
	if handleUnknown(tgerr.New(400, "CHANNEL_PRIVATE")) {
		t.Error("CHANNEL_PRIVATE must leave room for the user-session path")
	}

	if !forwardRestricted(tgerr.New(403, "CHAT_FORWARDS_RESTRICTED")) {
		t.Error("CHAT_FORWARDS_RESTRICTED must trigger reupload")
	}
	if forwardRestricted(tgerr.New(400, "USERNAME_INVALID")) {
		t.Error("USERNAME_INVALID must not trigger reupload")
	}
}
