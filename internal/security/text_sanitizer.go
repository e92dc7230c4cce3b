package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部由来のHTML断片から全てのタグを取り除き、プレーンテキストにする。
// フィードの見出しや本文段落など、マークアップを含み得る文字列に使う。
// bluemondayのポリシーはスレッドセーフなため、複数のワーカーから共有できる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// StripTags はタグを除去し、文字参照を展開し、連続する空白を1つにまとめる。
func (s *TextSanitizer) StripTags(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}
