package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used when a model name is unknown.
const DefaultEncoding = "cl100k_base"

// modelEncodings 模型名到 tiktoken 编码的映射，按前缀匹配
var modelEncodings = map[string]string{
	"gpt-4o":         "o200k_base",
	"gpt-4":          "cl100k_base",
	"gpt-3.5-turbo":  "cl100k_base",
	"text-embedding": "cl100k_base",
}

// EncodingForModel returns the tiktoken encoding of model, falling back to
// DefaultEncoding. The longest matching prefix wins.
func EncodingForModel(model string) string {
	best, enc := "", DefaultEncoding
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, enc = prefix, e
		}
	}
	return enc
}

// =============================================================================
// Estimate
// =============================================================================

// Estimate counts tokens from character classes: about 4 Latin characters
// or 1.5 CJK characters per token. It needs no data files.
type Estimate struct{}

// CountTokens 估算 text 的 token 数
func (Estimate) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)/1.5+float64(other)/4.0+0.5)
	if n == 0 {
		n = 1
	}
	return n
}

// =============================================================================
// Tiktoken
// =============================================================================

// Tiktoken counts tokens with a BPE encoding. The encoding is loaded on first
// use (tiktoken-go may download its rank file). If loading fails the counter
// logs once and falls back to Estimate.
type Tiktoken struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken creates a lazily initialized counter for encoding.
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{encoding: encoding, logger: logger.With(zap.String("component", "tokenizer"))}
}

// NewTiktokenForModel picks the encoding from the model name.
func NewTiktokenForModel(model string, logger *zap.Logger) *Tiktoken {
	return NewTiktoken(EncodingForModel(model), logger)
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, estimating token counts", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Err reports why the encoding could not be loaded, if it could not.
func (t *Tiktoken) Err() error { return t.init() }

// CountTokens 计算 text 的 token 数
func (t *Tiktoken) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.init() != nil {
		return Estimate{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name 返回编码名称
func (t *Tiktoken) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
