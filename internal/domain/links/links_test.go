package links_test

import (
	"errors"
	"testing"

	"telegram-downloader/internal/domain/links"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want links.Target
	}{
		{
			name: "public",
			raw:  "https://t.me/somechannel/42",
			want: links.Target{Handle: "somechannel", MsgID: 42},
		},
		{
			name: "publicWithQuery",
			raw:  "https://t.me/somechannel/42?single",
			want: links.Target{Handle: "somechannel", MsgID: 42},
		},
		{
			name: "publicInsideText",
			raw:  "look at this https://t.me/somechannel/42 please",
			want: links.Target{Handle: "somechannel", MsgID: 42},
		},
		{
			name: "privateNumeric",
			raw:  "https://t.me/c/1234567890/42",
			want: links.Target{ChatID: -1001234567890, MsgID: 42, Private: true},
		},
		{
			name: "privateTopicWinsOverPrivate",
			raw:  "https://t.me/c/1234567890/7/42",
			want: links.Target{ChatID: -1001234567890, TopicID: 7, MsgID: 42, Private: true},
		},
		{
			name: "publicTopic",
			raw:  "https://t.me/someforum/7/42",
			want: links.Target{Handle: "someforum", TopicID: 7, MsgID: 42},
		},
		{
			name: "bareHost",
			raw:  "t.me/somechannel/42",
			want: links.Target{Handle: "somechannel", MsgID: 42},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := links.Parse(tc.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"hello world",
		"https://t.me/somechannel",
		"https://t.me/c/notanumber/42",
		"https://example.com/somechannel/42",
		"https://t.me/somechannel/0",
	} {
		if _, err := links.Parse(raw); !errors.Is(err, links.ErrInvalidLink) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidLink", raw, err)
		}
	}
}

func TestTargetURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		target links.Target
		msgID  int
		want   string
	}{
		{
			name:   "publicOwnMessage",
			target: links.Target{Handle: "somechannel", MsgID: 42},
			want:   "https://t.me/somechannel/42",
		},
		{
			name:   "publicOtherMessage",
			target: links.Target{Handle: "somechannel", MsgID: 42},
			msgID:  43,
			want:   "https://t.me/somechannel/43",
		},
		{
			name:   "privateUsesRawID",
			target: links.Target{ChatID: -1001234567890, MsgID: 42, Private: true},
			want:   "https://t.me/c/1234567890/42",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.target.URL(tc.msgID); got != tc.want {
				t.Fatalf("URL(%d) = %q, want %q", tc.msgID, got, tc.want)
			}
		})
	}
}

func TestRawChannelID(t *testing.T) {
	t.Parallel()

	if got := links.RawChannelID(-1001234567890); got != 1234567890 {
		t.Errorf("RawChannelID(-1001234567890) = %d, want 1234567890", got)
	}
	if got := links.RawChannelID(1234567890); got != 1234567890 {
		t.Errorf("RawChannelID(positive) = %d, want unchanged", got)
	}
}
