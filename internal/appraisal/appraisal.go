package appraisal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jusunglee/kaitoribot/internal/llm"
	"github.com/jusunglee/kaitoribot/internal/metrics"
)

var (
	ErrDisabled = errors.New("ai appraisal disabled")
	ErrQuota    = errors.New("ai appraisal quota exceeded")
)

// ParseError means the model answered but no estimate could be read from it.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

const maxRawLen = 800

type Source string

const (
	SourceText  Source = "text"
	SourceImage Source = "image"
)

// Estimate is the buy-price estimate shown to the customer. Amounts are JPY.
type Estimate struct {
	Category       string `json:"category"`
	Brand          string `json:"brand"`
	Model          string `json:"model"`
	EstimateLow    int64  `json:"estimate_low"`
	EstimateHigh   int64  `json:"estimate_high"`
	PopularityHint bool   `json:"popularity_hint"`
	Tips           string `json:"tips"`
}

const systemPrompt = "あなたはリユースショップの査定担当AIです。出力は必ずJSONのみ。" +
	"ユーザーに見せるのは『買取目安金額』だけ。中古相場や新品価格の金額は表示しない。" +
	"内部ロジックとして、中古相場×0.1~0.2 または 新品価格×0.05~0.1 を目安に計算してよいが、" +
	"その根拠や相場の金額は一切表示しない。" +
	"項目: category, brand, model, estimate_low, estimate_high, popularity_hint, tips。" +
	"estimate_* はJPYの整数。popularity_hint は true/false（SOLDOUTが多い等で人気・上振れ余地があればtrue）。" +
	"tips は確認ポイント（傷/付属品/動作など）を簡潔に。" +
	" 絶対にJSONだけを返してください。説明文は不要です。"

type Appraiser struct {
	llm      llm.Client
	disabled bool
	timeout  time.Duration
}

func NewAppraiser(client llm.Client, disabled bool) *Appraiser {
	return &Appraiser{llm: client, disabled: disabled, timeout: 25 * time.Second}
}

// Assess asks the model for an estimate of the item described by text and/or image.
func (a *Appraiser) Assess(ctx context.Context, text string, image []byte) (Estimate, error) {
	source := SourceText
	if len(image) > 0 {
		source = SourceImage
	}
	if a.disabled || a.llm == nil {
		metrics.AssessmentsTotal.WithLabelValues(string(source), "disabled").Inc()
		return Estimate{}, ErrDisabled
	}

	var images []llm.Image
	if len(image) > 0 {
		images = append(images, llm.Image{Data: image, MediaType: detectImageType(image)})
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.llm.Complete(ctx, systemPrompt, buildPrompt(text, len(images) > 0), images...)
	metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, llm.ErrQuota) {
		metrics.AssessmentsTotal.WithLabelValues(string(source), "quota").Inc()
		return Estimate{}, ErrQuota
	}
	if err != nil {
		metrics.AssessmentsTotal.WithLabelValues(string(source), "error").Inc()
		return Estimate{}, &ParseError{Raw: truncate(err.Error(), maxRawLen), Err: err}
	}

	est, err := ParseEstimate(raw)
	if err != nil {
		metrics.AssessmentsTotal.WithLabelValues(string(source), "parse_failed").Inc()
		return Estimate{}, err
	}
	metrics.AssessmentsTotal.WithLabelValues(string(source), "ok").Inc()
	return est, nil
}

func buildPrompt(text string, hasImage bool) string {
	text = strings.TrimSpace(text)
	switch {
	case text != "":
		return "対象情報:\n" + text
	case hasImage:
		return "対象情報: 添付画像の商品"
	default:
		return "対象情報なし"
	}
}

func detectImageType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

// wireEstimate tolerates the loose shapes models tend to return: numbers as
// strings or floats, tips as a list.
type wireEstimate struct {
	Category       string          `json:"category"`
	Brand          string          `json:"brand"`
	Model          string          `json:"model"`
	EstimateLow    json.RawMessage `json:"estimate_low"`
	EstimateHigh   json.RawMessage `json:"estimate_high"`
	PopularityHint json.RawMessage `json:"popularity_hint"`
	Tips           json.RawMessage `json:"tips"`
}

// ParseEstimate reads an Estimate from model output. It first decodes the
// whole text, then falls back to the outermost {...} span.
func ParseEstimate(raw string) (Estimate, error) {
	text := llm.StripMarkdownCodeBlocks(raw)

	var w wireEstimate
	err := json.Unmarshal([]byte(text), &w)
	if err != nil {
		obj := llm.ExtractJSONObject(text)
		if obj == "" {
			return Estimate{}, &ParseError{Raw: truncate(text, maxRawLen), Err: err}
		}
		if err := json.Unmarshal([]byte(obj), &w); err != nil {
			return Estimate{}, &ParseError{Raw: truncate(text, maxRawLen), Err: fmt.Errorf("decoding extracted object: %w", err)}
		}
	}

	low, err := parseYen(w.EstimateLow)
	if err != nil {
		return Estimate{}, &ParseError{Raw: truncate(text, maxRawLen), Err: fmt.Errorf("estimate_low: %w", err)}
	}
	high, err := parseYen(w.EstimateHigh)
	if err != nil {
		return Estimate{}, &ParseError{Raw: truncate(text, maxRawLen), Err: fmt.Errorf("estimate_high: %w", err)}
	}

	return Estimate{
		Category:       strings.TrimSpace(w.Category),
		Brand:          strings.TrimSpace(w.Brand),
		Model:          strings.TrimSpace(w.Model),
		EstimateLow:    low,
		EstimateHigh:   high,
		PopularityHint: parseBool(w.PopularityHint),
		Tips:           parseTips(w.Tips),
	}, nil
}

func parseYen(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing")
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	s = strings.NewReplacer(",", "", "円", "", "¥", "", "￥", "", " ", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return int64(f), nil
}

func parseBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, _ := strconv.ParseBool(strings.TrimSpace(s))
		return v
	}
	return false
}

func parseTips(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "、")
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
