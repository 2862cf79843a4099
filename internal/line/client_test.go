package line

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextMessage(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		msg := NewTextMessage("こんにちは")
		assert.Equal(t, "こんにちは", msg.Text)
		assert.Nil(t, msg.QuickReply)
	})

	t.Run("truncated by characters", func(t *testing.T) {
		msg := NewTextMessage(strings.Repeat("査", MaxTextLength+10))
		assert.Equal(t, MaxTextLength, utf8.RuneCountInString(msg.Text))
	})

	t.Run("quick replies", func(t *testing.T) {
		msg := NewTextMessage("選んでください",
			QuickReply{Label: "AI査定", Text: "AI査定"},
			QuickReply{Label: "お問い合わせ", Text: "お問い合わせ"},
		)
		require.NotNil(t, msg.QuickReply)
		require.Len(t, msg.QuickReply.Items, 2)

		action, ok := msg.QuickReply.Items[1].Action.(*messaging_api.MessageAction)
		require.True(t, ok)
		assert.Equal(t, "お問い合わせ", action.Label)
		assert.Equal(t, "お問い合わせ", action.Text)
	})
}

func TestReadLimited(t *testing.T) {
	resp := func(body string, length int64) *http.Response {
		return &http.Response{Body: io.NopCloser(strings.NewReader(body)), ContentLength: length}
	}

	t.Run("within limit", func(t *testing.T) {
		data, err := readLimited(resp("abcd", 4), 4)
		require.NoError(t, err)
		assert.Equal(t, []byte("abcd"), data)
	})

	t.Run("declared length over limit", func(t *testing.T) {
		_, err := readLimited(resp("abcde", 5), 4)
		assert.ErrorIs(t, err, ErrContentTooLarge)
	})

	t.Run("unknown length over limit", func(t *testing.T) {
		_, err := readLimited(resp("abcde", -1), 4)
		assert.ErrorIs(t, err, ErrContentTooLarge)
	})
}
