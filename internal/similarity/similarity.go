// Package similarity は見出しの語彙的な重複判定を行う。
// 意味的な類似度は扱わない。
package similarity

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// JaccardThreshold 以上のJaccard係数で重複とみなす。
	JaccardThreshold = 0.40
	// CoverageThreshold は短い方の見出しの語がどれだけ共通語で覆われているかの閾値。
	CoverageThreshold = 0.55
	// MinSharedTokens はカバレッジ判定に必要な共通語数の下限。
	MinSharedTokens = 3
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Engine は見出しの正規化と重複判定を行う。生成後は読み取り専用。
type Engine struct {
	stopWords map[string]struct{}
	aliases   map[string]string
	phrases   *strings.Replacer // 記号入りの別名（dall-eなど）を1語に結合する
}

// NewEngine はストップワードとブランド別名の対応表からEngineを生成する。
func NewEngine(stopWords []string, aliases map[string]string) *Engine {
	sw := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		sw[strings.ToLower(w)] = struct{}{}
	}
	al := make(map[string]string, len(aliases))
	var joined []string
	for k, v := range aliases {
		k = strings.ToLower(k)
		key := strings.Join(tokenPattern.FindAllString(k, -1), "")
		if key == "" {
			continue
		}
		if key != k {
			joined = append(joined, k)
		}
		al[key] = strings.ToLower(v)
	}
	sort.Strings(joined)
	pairs := make([]string, 0, 2*len(joined))
	for _, k := range joined {
		pairs = append(pairs, k, strings.Join(tokenPattern.FindAllString(k, -1), ""))
	}
	return &Engine{stopWords: sw, aliases: al, phrases: strings.NewReplacer(pairs...)}
}

// Tokens は見出しを比較用の語集合に変換する。
//
// 製品名は親企業の語に置き換える。ただし同じ見出しに親企業の語が既にある場合は
// 製品名のまま残し、別名の置換で見出し自身の語数が減らないようにする。
func (e *Engine) Tokens(headline string) map[string]struct{} {
	var stems []string
	present := make(map[string]struct{})
	for _, w := range tokenPattern.FindAllString(e.phrases.Replace(strings.ToLower(headline)), -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := e.stopWords[w]; stop {
			continue
		}
		s := stem(w)
		stems = append(stems, s)
		present[s] = struct{}{}
	}

	out := make(map[string]struct{}, len(stems))
	for _, s := range stems {
		if parent, ok := e.aliases[s]; ok {
			if _, has := present[parent]; !has {
				s = parent
			}
		}
		out[s] = struct{}{}
	}
	return out
}

// stem は順序付きの接尾辞規則を最初に一致したもの1つだけ適用する。
// 短い語は長さ条件により変化しない。
func stem(w string) string {
	n := len(w)
	switch {
	case strings.HasSuffix(w, "ated") && n > 5:
		return w[:n-1]
	case strings.HasSuffix(w, "ied") && n > 4:
		return w[:n-3] + "y"
	case strings.HasSuffix(w, "ing") && n > 5:
		return w[:n-3]
	case strings.HasSuffix(w, "ed") && n > 4:
		return w[:n-2]
	case strings.HasSuffix(w, "ies") && n > 4:
		return w[:n-3] + "y"
	case strings.HasSuffix(w, "es") && n > 4:
		return w[:n-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && n > 3:
		return w[:n-1]
	}
	return w
}

// Overlap は2つの語集合の共通語数・和集合の大きさ・短い方の大きさを返す。
func Overlap(a, b map[string]struct{}) (shared, union, shorter int) {
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	union = len(a) + len(b) - shared
	shorter = min(len(a), len(b))
	return shared, union, shorter
}

// Jaccard は2つの見出しのJaccard係数を返す。どちらかが空なら0。
func (e *Engine) Jaccard(a, b string) float64 {
	ta, tb := e.Tokens(a), e.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared, union, _ := Overlap(ta, tb)
	return float64(shared) / float64(union)
}

// IsDuplicateTopic は2つの見出しが同じ話題かを判定する。
// Jaccard係数が閾値以上、または共通語が3語以上かつ短い方の55%以上を覆う場合に重複とする。
func (e *Engine) IsDuplicateTopic(a, b string) bool {
	ta, tb := e.Tokens(a), e.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	shared, union, shorter := Overlap(ta, tb)

	if float64(shared)/float64(union) >= JaccardThreshold {
		return true
	}
	return shared >= MinSharedTokens && float64(shared)/float64(shorter) >= CoverageThreshold
}

// DuplicateOfAny はheadlineがkeptのいずれかと重複するかを判定する。
func (e *Engine) DuplicateOfAny(headline string, kept []string) bool {
	for _, k := range kept {
		if e.IsDuplicateTopic(headline, k) {
			return true
		}
	}
	return false
}
