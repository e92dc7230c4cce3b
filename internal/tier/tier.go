// Package tier は媒体名を品質階層に分類する。
// 分類は参照テーブルのみに依存する純粋関数で、I/Oを行わない。
package tier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hitoshi/newsbrief/internal/catalog"
)

// Level は媒体の品質階層。
type Level int

const (
	Unknown Level = 0
	Tier1   Level = 1
	Tier2   Level = 2
	Tier3   Level = 3
	Local   Level = 99
)

// String は階層の表示ラベルを返す。
func (l Level) String() string {
	switch l {
	case Tier1:
		return "Tier 1"
	case Tier2:
		return "Tier 2"
	case Tier3:
		return "Tier 3"
	case Local:
		return "Local"
	default:
		return "Unknown"
	}
}

// Info は分類結果。Eligible は一般ニュース枠への掲載可否を表し、階層のみから決まる。
type Info struct {
	Tier     Level  `json:"tier"`
	Label    string `json:"tier_label"`
	Eligible bool   `json:"eligible"`
	Note     string `json:"note,omitempty"`
}

var parenSuffix = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// Classifier は階層テーブルを保持する。
type Classifier struct {
	sets   [4]map[string]struct{} // tier1, tier2, tier3, local
	remaps []catalog.DomainName
}

// NewClassifier はテーブルからClassifierを生成する。
func NewClassifier(tiers catalog.Tiers, remaps []catalog.DomainName) *Classifier {
	c := &Classifier{remaps: remaps}
	for i, names := range [][]string{tiers.Tier1, tiers.Tier2, tiers.Tier3, tiers.Local} {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
		}
		c.sets[i] = set
	}
	return c
}

// normalizeName は括弧付きの接尾辞を取り除いて小文字化する。
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(parenSuffix.ReplaceAllString(name, "")))
}

// Classify は媒体名とURLから階層を判定する。
// URLがドメイン対応表に一致する場合は、記載された媒体名よりドメインを優先する。
func (c *Classifier) Classify(source, rawURL string) Info {
	name := normalizeName(source)

	lowerURL := strings.ToLower(rawURL)
	for _, r := range c.remaps {
		if r.Fragment != "" && strings.Contains(lowerURL, strings.ToLower(r.Fragment)) {
			name = strings.ToLower(r.Source)
			break
		}
	}

	// 正規化で削りすぎた場合に備えて元の名前も照合する。
	names := []string{name, strings.ToLower(strings.TrimSpace(source))}

	levels := [4]Level{Tier1, Tier2, Tier3, Local}
	for i, set := range c.sets {
		for _, n := range names {
			if _, ok := set[n]; ok {
				return newInfo(levels[i], source)
			}
		}
	}
	return newInfo(Unknown, source)
}

func newInfo(l Level, source string) Info {
	info := Info{Tier: l, Label: l.String(), Eligible: l == Tier1 || l == Tier2}
	switch l {
	case Tier3:
		info.Note = fmt.Sprintf("FLAGGED: '%s' is Tier 3 (niche/single-topic). Find Tier 1/2 coverage for the same story before including in general awareness.", source)
	case Local:
		info.Note = fmt.Sprintf("BLOCKED: '%s' is a local paper. Never use for general awareness.", source)
	case Unknown:
		info.Note = fmt.Sprintf("UNKNOWN: '%s' not in tier database. Classify manually.", source)
	}
	return info
}
