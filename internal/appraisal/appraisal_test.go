package appraisal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jusunglee/kaitoribot/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) Complete(ctx context.Context, system, prompt string, images ...llm.Image) (string, error) {
	ret := m.Called(ctx, system, prompt, images)
	return ret.String(0), ret.Error(1)
}

const sampleJSON = `{"category":"ゲーム機","brand":"Nintendo","model":"Switch HAC-001","estimate_low":8000,"estimate_high":12000,"popularity_hint":true,"tips":"Joy-Conの動作"}`

func TestAssess(t *testing.T) {
	ctx := context.Background()

	t.Run("text estimate", func(t *testing.T) {
		m := new(MockLLM)
		m.On("Complete", mock.Anything, systemPrompt, "対象情報:\nSwitch HAC-001", []llm.Image(nil)).Return(sampleJSON, nil)

		est, err := NewAppraiser(m, false).Assess(ctx, "  Switch HAC-001 ", nil)
		require.NoError(t, err)
		assert.Equal(t, Estimate{
			Category:       "ゲーム機",
			Brand:          "Nintendo",
			Model:          "Switch HAC-001",
			EstimateLow:    8000,
			EstimateHigh:   12000,
			PopularityHint: true,
			Tips:           "Joy-Conの動作",
		}, est)
		m.AssertExpectations(t)
	})

	t.Run("image is attached", func(t *testing.T) {
		png := []byte("\x89PNG\r\n\x1a\n0000")
		m := new(MockLLM)
		m.On("Complete", mock.Anything, systemPrompt, "対象情報: 添付画像の商品", mock.MatchedBy(func(imgs []llm.Image) bool {
			return len(imgs) == 1 && imgs[0].MediaType == "image/png"
		})).Return(sampleJSON, nil)

		_, err := NewAppraiser(m, false).Assess(ctx, "", png)
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("disabled never calls model", func(t *testing.T) {
		m := new(MockLLM)
		_, err := NewAppraiser(m, true).Assess(ctx, "x", nil)
		assert.ErrorIs(t, err, ErrDisabled)
		m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("quota", func(t *testing.T) {
		m := new(MockLLM)
		m.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", fmt.Errorf("anthropic API call failed: %w", llm.ErrQuota))

		_, err := NewAppraiser(m, false).Assess(ctx, "x", nil)
		assert.ErrorIs(t, err, ErrQuota)
	})

	t.Run("provider failure is a parse error with message", func(t *testing.T) {
		m := new(MockLLM)
		m.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("connection reset"))

		_, err := NewAppraiser(m, false).Assess(ctx, "x", nil)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "connection reset", pe.Raw)
	})
}

func TestParseEstimate(t *testing.T) {
	t.Run("fenced", func(t *testing.T) {
		est, err := ParseEstimate("```json\n" + sampleJSON + "\n```")
		require.NoError(t, err)
		assert.Equal(t, int64(8000), est.EstimateLow)
	})

	t.Run("prose around object", func(t *testing.T) {
		est, err := ParseEstimate("査定しました。\n" + sampleJSON + "\nよろしくお願いします。")
		require.NoError(t, err)
		assert.Equal(t, "Nintendo", est.Brand)
	})

	t.Run("loose types", func(t *testing.T) {
		est, err := ParseEstimate(`{"estimate_low":"1,500円","estimate_high":2500.0,"popularity_hint":"true","tips":["傷","付属品"]}`)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), est.EstimateLow)
		assert.Equal(t, int64(2500), est.EstimateHigh)
		assert.True(t, est.PopularityHint)
		assert.Equal(t, "傷、付属品", est.Tips)
	})

	t.Run("missing estimate", func(t *testing.T) {
		_, err := ParseEstimate(`{"category":"本"}`)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
	})

	t.Run("no json", func(t *testing.T) {
		_, err := ParseEstimate("申し訳ありませんが査定できません")
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "申し訳ありませんが査定できません", pe.Raw)
	})
}

func TestFormatEstimate(t *testing.T) {
	est := Estimate{
		Category:       "ゲーム機",
		Brand:          "Nintendo",
		Model:          "Switch",
		EstimateLow:    8000,
		EstimateHigh:   12000,
		PopularityHint: true,
		Tips:           "Joy-Conの動作",
	}

	want := "🧮 仮査定の買取目安です。\n" +
		"・商品：ゲーム機 / Nintendo Switch\n" +
		"・買取目安：8,000円 〜 12,000円\n" +
		"・人気のため在庫状況次第で上振れの可能性あり✨\n" +
		"・確認ポイント：Joy-Conの動作\n" +
		"\n🎁 LINE友だち限定：査定金額から +500円UP クーポン適用中\n" +
		"\nこのまま続けますか？"
	assert.Equal(t, want, FormatEstimate(SourceText, est))

	bare := FormatEstimate(SourceImage, Estimate{EstimateLow: 100, EstimateHigh: 300})
	assert.Contains(t, bare, "📸 画像を確認しました。")
	assert.Contains(t, bare, "・商品：\n")
	assert.NotContains(t, bare, "確認ポイント")
	assert.NotContains(t, bare, "上振れ")
}
