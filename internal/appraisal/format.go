package appraisal

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// QuickReply is a button that sends Text back as the user's message.
type QuickReply struct {
	Label string
	Text  string
}

// FollowUps are offered under every estimate.
var FollowUps = []QuickReply{
	{Label: "正確なスタッフ査定", Text: "スタッフ査定を希望"},
	{Label: "出張買取を希望", Text: "出張買取を依頼"},
	{Label: "店舗に持ち込み", Text: "店舗持ち込みを希望"},
}

var yen = message.NewPrinter(language.Japanese)

// FormatEstimate renders the estimate reply shown to the customer.
func FormatEstimate(source Source, e Estimate) string {
	header := "🧮 仮査定の買取目安です。"
	if source == SourceImage {
		header = "📸 画像を確認しました。仮査定の買取目安です。"
	}

	lines := []string{
		header,
		strings.Trim("・商品："+e.Category+" / "+e.Brand+" "+e.Model, " /"),
		yen.Sprintf("・買取目安：%d円 〜 %d円", e.EstimateLow, e.EstimateHigh),
	}
	if e.PopularityHint {
		lines = append(lines, "・人気のため在庫状況次第で上振れの可能性あり✨")
	}
	if e.Tips != "" {
		lines = append(lines, "・確認ポイント："+e.Tips)
	}
	lines = append(lines,
		"\n🎁 LINE友だち限定：査定金額から +500円UP クーポン適用中",
		"\nこのまま続けますか？",
	)
	return strings.Join(lines, "\n")
}
