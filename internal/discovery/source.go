package discovery

import (
	"strings"

	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/urlnorm"
)

// SourceNames はURLのホストから表示用の媒体名を推定する。
type SourceNames struct {
	domains []catalog.DomainName
}

// NewSourceNames はドメインと媒体名の対応表からSourceNamesを生成する。
func NewSourceNames(domains []catalog.DomainName) *SourceNames {
	return &SourceNames{domains: domains}
}

// Infer は対応表に一致すればその媒体名を、なければホスト名の先頭ラベルを大文字始まりにして返す。
func (n *SourceNames) Infer(rawURL string) string {
	host := urlnorm.Host(rawURL)
	if host == "" {
		return "Unknown"
	}
	for _, d := range n.domains {
		if strings.Contains(host, strings.ToLower(d.Fragment)) {
			return d.Source
		}
	}
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return "Unknown"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// DedupeByURL は正規化URLが同じ候補を除き、最初に発見されたものを残す。
// 除外した件数も返す。
func DedupeByURL(cands []model.Candidate) ([]model.Candidate, int) {
	seen := make(map[string]struct{}, len(cands))
	out := make([]model.Candidate, 0, len(cands))
	dropped := 0
	for _, c := range cands {
		key := urlnorm.Normalize(c.URL)
		if _, ok := seen[key]; ok {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out, dropped
}
