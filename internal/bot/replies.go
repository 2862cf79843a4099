package bot

import (
	"strings"

	"github.com/jusunglee/kaitoribot/internal/appraisal"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/samber/lo"
)

const (
	replyTooManyMessages = "短時間に多数のメッセージを受信したため、一時的に受付を停止しました。しばらく経ってからお試しください。"
	replyTooManyImages   = "画像の連続送信が多いため、一時的に受付を停止しました。1分ほど時間を空けてお試しください。"
	replyUnsupported     = "対応していないメッセージ形式です。テキストまたは画像でお送りください。"
	replyImageTooLarge   = "画像が大きすぎます（2MB以内で送信してください）。\n型番ラベルを接写すると精度が上がります。"

	replyTextFallback = "現在、AI査定がご利用いただけません。\n" +
		"・写真と型番をこのまま送ってください（スタッフが手動で査定）\n" +
		"・または「出張買取を依頼」を選んで仮予約できます。"
	replyImageFallback = "現在、AI査定がご利用いただけません。\n" +
		"・型番ラベルにピントを合わせた写真を送ってください（スタッフが手動で査定）\n" +
		"・または「出張買取を依頼」を選んで仮予約できます。"

	replyTextParseFailed  = "うまく解析できませんでした。写真や型番ラベルの画像も送ってください。"
	replyImageParseFailed = "画像の解析に失敗しました。型番ラベルにピントを合わせてもう一度送ってください。"
)

// Inquiry kinds stored for staff follow-up.
const (
	InquiryContact        = "contact"
	InquiryPickup         = "pickup"
	InquiryStaffAppraisal = "staff_appraisal"
	InquiryStoreVisit     = "store_visit"
)

type menuEntry struct {
	reply   string
	inquiry string
}

// menu holds the fixed phrases sent by the rich menu and the estimate quick replies.
var menu = map[string]menuEntry{
	"AI査定": {
		reply: "📸 AI査定を開始します。\n商品の写真（正面や型番ラベル）や型番テキストを送ってください。",
	},
	"お問い合わせ": {
		reply:   "📩 お問い合わせありがとうございます。\n内容をこちらに送信してください。スタッフが手動で返信いたします。",
		inquiry: InquiryContact,
	},
	"出張買取を依頼": {
		reply:   "🚛 出張買取の仮予約を開始します。\nご希望の訪問日時をお知らせください。",
		inquiry: InquiryPickup,
	},
	"スタッフ査定を希望": {
		reply:   "👤 スタッフ査定を承りました。\n商品の写真（正面・型番ラベル・付属品）を送ってください。スタッフが順次ご連絡します。",
		inquiry: InquiryStaffAppraisal,
	},
	"店舗持ち込みを希望": {
		reply:   "🏪 店舗への持ち込みですね。\nご来店予定の日時をお知らせください。スタッフが確認してご連絡します。",
		inquiry: InquiryStoreVisit,
	},
}

func warningText(w guard.Warning) string {
	if w == guard.WarnTooManyImages {
		return replyTooManyImages
	}
	return replyTooManyMessages
}

func fallbackText(source appraisal.Source) string {
	if source == appraisal.SourceImage {
		return replyImageFallback
	}
	return replyTextFallback
}

func parseFailedText(source appraisal.Source) string {
	if source == appraisal.SourceImage {
		return replyImageParseFailed
	}
	return replyTextParseFailed
}

// FormatBroadcast renders the weekly "items we are buying" announcement.
func FormatBroadcast(items []string) string {
	lines := lo.Map(items, func(item string, _ int) string { return "・" + item })
	return "🟢今週の買取強化アイテム\n" + strings.Join(lines, "\n") +
		"\n\n査定は画像か型番を送るだけ！LINE友だち限定 +500円UP中🎁"
}
