package selection

import (
	"regexp"
	"strings"

	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/model"
)

type keywordRule struct {
	category model.Category
	patterns []*regexp.Regexp
}

type flagRule struct {
	flag    string
	keyword string
	pattern *regexp.Regexp
}

// Scorer はスコア・カテゴリ・国旗の算出と除外判定を行う。テーブルは生成後に変更しない。
type Scorer struct {
	groups       []catalog.KeywordGroup
	boosts       []catalog.SourceBoost
	pressRelease catalog.PressRelease

	categorySources []catalog.CategorySources
	categoryRules   []keywordRule
	defaultCategory model.Category

	flags       []flagRule
	defaultFlag string

	digestPatterns []string
	localTopics    []string

	language  catalog.Language
	markers   map[string]struct{}
	wordRunes *regexp.Regexp
}

// NewScorer はテーブルからScorerを生成する。キーワードは小文字化するが、前後の空白は保持する。
func NewScorer(c *catalog.Catalog) *Scorer {
	s := &Scorer{
		pressRelease:    c.Scoring.PressRelease,
		defaultCategory: model.Category(c.Categories.Default),
		defaultFlag:     c.Flags.Default,
		digestPatterns:  lowerAll(c.DigestPatterns),
		localTopics:     lowerAll(c.LocalTopics),
		language:        c.Language,
		markers:         make(map[string]struct{}, len(c.Language.Markers)),
		wordRunes:       regexp.MustCompile(`[a-záéíóúñü]+`),
	}
	s.pressRelease.Signals = lowerAll(c.Scoring.PressRelease.Signals)

	for _, g := range c.Scoring.Groups {
		g.Keywords = lowerAll(g.Keywords)
		s.groups = append(s.groups, g)
	}
	for _, b := range c.Scoring.HighSignalSources {
		b.Source = strings.ToLower(b.Source)
		s.boosts = append(s.boosts, b)
	}

	for _, cs := range c.Categories.Sources {
		s.categorySources = append(s.categorySources, catalog.CategorySources{
			Category: cs.Category,
			Sources:  lowerAll(cs.Sources),
		})
	}
	// カテゴリのキーワードは語頭一致。"ai" が "said" に一致しないようにする
	for _, ck := range c.Categories.Keywords {
		rule := keywordRule{category: model.Category(ck.Category)}
		for _, kw := range lowerAll(ck.Keywords) {
			rule.patterns = append(rule.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)))
		}
		s.categoryRules = append(s.categoryRules, rule)
	}

	for _, e := range c.Flags.Entries {
		for _, kw := range lowerAll(e.Keywords) {
			s.flags = append(s.flags, flagRule{
				flag:    e.Flag,
				keyword: kw,
				pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		}
	}

	for _, m := range c.Language.Markers {
		s.markers[strings.ToLower(m)] = struct{}{}
	}
	return s
}

// Score は見出しと媒体名から関連度を算出する。
// キーワード群の加点、注目媒体の加点、プレスリリース的な表現の減点を合計する。
func (s *Scorer) Score(headline, source string) int {
	text := strings.ToLower(headline + " " + source)
	score := 0

	for _, g := range s.groups {
		for _, kw := range g.Keywords {
			if strings.Contains(text, kw) {
				score += g.Weight
				if g.Once {
					break
				}
			}
		}
	}

	lowerSource := strings.ToLower(source)
	for _, b := range s.boosts {
		if strings.Contains(lowerSource, b.Source) {
			score += b.Boost
			break
		}
	}

	hits := 0
	for _, sig := range s.pressRelease.Signals {
		if strings.Contains(text, sig) {
			hits++
		}
	}
	switch {
	case hits >= 2:
		score -= s.pressRelease.MultiPenalty
	case hits == 1:
		score -= s.pressRelease.SinglePenalty
	}
	return score
}

// Categorize はカテゴリを判定する。媒体名の対応表を見出しのキーワードより優先する。
func (s *Scorer) Categorize(source, headline string) model.Category {
	lowerSource := strings.ToLower(source)
	for _, cs := range s.categorySources {
		for _, src := range cs.Sources {
			if strings.Contains(lowerSource, src) {
				return model.Category(cs.Category)
			}
		}
	}

	text := strings.ToLower(headline + " " + source)
	for _, rule := range s.categoryRules {
		for _, p := range rule.patterns {
			if p.MatchString(text) {
				return rule.category
			}
		}
	}
	return s.defaultCategory
}

// Flag は本文中で最も長く一致した地名キーワードの国旗を返す。
// 同じ長さの場合はテーブルで先に定義されたものを採用する。
func (s *Scorer) Flag(text string) string {
	lower := strings.ToLower(text)
	best, bestLen := s.defaultFlag, 0
	for _, r := range s.flags {
		if len(r.keyword) > bestLen && r.pattern.MatchString(lower) {
			best, bestLen = r.flag, len(r.keyword)
		}
	}
	return best
}

// IsDigest はURLが複数話題をまとめたダイジェスト記事かを判定する。
func (s *Scorer) IsDigest(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range s.digestPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsNonEnglish はURLのパスまたは見出しの語から除外対象言語の記事かを判定する。
func (s *Scorer) IsNonEnglish(headline, rawURL string) bool {
	for _, seg := range s.language.URLSegments {
		if strings.Contains(rawURL, seg) {
			return true
		}
	}

	words := s.wordRunes.FindAllString(strings.ToLower(headline), -1)
	if len(words) < s.language.MinWords || len(words) == 0 {
		return false
	}
	matched := 0
	for _, w := range words {
		if _, ok := s.markers[w]; ok {
			matched++
		}
	}
	return float64(matched)/float64(len(words)) > s.language.Threshold
}

// IsLocalTopic は見出しが地域ニュースとして扱う話題を含むかを判定する。
func (s *Scorer) IsLocalTopic(headline string) bool {
	lower := strings.ToLower(headline)
	for _, t := range s.localTopics {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}
