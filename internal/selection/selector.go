// Package selection は有効記事をスコアリングし、主要・一般・地域の各セクションへ割り当てる。
package selection

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/tier"
)

// TopicMatcher は見出しの話題重複判定のインターフェース。
type TopicMatcher interface {
	IsDuplicateTopic(a, b string) bool
}

// TierClassifier は媒体階層の分類インターフェース。
type TierClassifier interface {
	Classify(source, rawURL string) tier.Info
}

// Config はセクションの件数と上限。
type Config struct {
	PrimarySize        int // 主要セクションの件数
	PrimaryPool        int // 主要セクションの一次候補数
	PrimarySourceCap   int
	SecondarySize      int
	SecondarySourceCap int
	SecondaryGeoCap    int // 一般セクションで同じ国旗を持つ記事の上限
	CategoryPriority   []model.Category
}

// DefaultConfig はデフォルトの件数と上限を返す。
func DefaultConfig() Config {
	return Config{
		PrimarySize:        6,
		PrimaryPool:        12,
		PrimarySourceCap:   2,
		SecondarySize:      10,
		SecondarySourceCap: 3,
		SecondaryGeoCap:    4,
		CategoryPriority:   []model.Category{model.CategoryHealth, model.CategoryTech, model.CategoryBusiness},
	}
}

// Selector はセクション割り当てを行う。
type Selector struct {
	scorer *Scorer
	topics TopicMatcher
	tiers  TierClassifier
	cfg    Config
	logger *slog.Logger
}

// NewSelector はSelectorを生成する。
func NewSelector(scorer *Scorer, topics TopicMatcher, tiers TierClassifier, cfg Config, logger *slog.Logger) *Selector {
	if len(cfg.CategoryPriority) == 0 {
		cfg.CategoryPriority = DefaultConfig().CategoryPriority
	}
	return &Selector{scorer: scorer, topics: topics, tiers: tiers, cfg: cfg, logger: logger}
}

// Select は有効記事を主要・一般・地域の各セクションへ割り当てる。
func (s *Selector) Select(valid []model.ValidationResult) model.Selection {
	var sel model.Selection
	var pool []model.ScoredItem

	for _, r := range valid {
		headline := strings.TrimSpace(r.Headline)
		url := resultURL(r)
		if headline == "" || s.scorer.IsDigest(url) || s.scorer.IsNonEnglish(headline, url) {
			sel.Filtered++
			continue
		}
		if r.Candidate.Local {
			// 許可リストに一致しない地域記事は黙って捨てる
			if s.scorer.IsLocalTopic(headline) {
				sel.Local = append(sel.Local, s.score(r))
			}
			continue
		}
		pool = append(pool, s.score(r))
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })

	pool, sel.Duplicates = s.dedupe(pool)
	sel.Primary = s.primary(pool)
	sel.Secondary = s.secondary(pool, sel.Primary)

	s.logger.Info("記事選定が完了しました",
		slog.Int("valid_count", len(valid)),
		slog.Int("primary", len(sel.Primary)),
		slog.Int("secondary", len(sel.Secondary)),
		slog.Int("local", len(sel.Local)),
		slog.Int("filtered", sel.Filtered),
		slog.Int("duplicates", sel.Duplicates),
	)
	return sel
}

func (s *Selector) score(r model.ValidationResult) model.ScoredItem {
	info := s.tiers.Classify(r.Source, resultURL(r))
	return model.ScoredItem{
		Result:   r,
		Score:    s.scorer.Score(r.Headline, r.Source),
		Category: s.scorer.Categorize(r.Source, r.Headline),
		Flag:     s.scorer.Flag(r.Headline + " " + r.Source),
		Tier:     int(info.Tier),
		Eligible: info.Eligible,
	}
}

// dedupe はスコア順に並んだ候補から話題が重複するものを除く。各話題で最初(最高スコア)の記事が残る。
func (s *Selector) dedupe(pool []model.ScoredItem) ([]model.ScoredItem, int) {
	var kept []model.ScoredItem
	dropped := 0
	for _, it := range pool {
		if s.duplicateOf(it, kept) {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	return kept, dropped
}

func (s *Selector) duplicateOf(it model.ScoredItem, others []model.ScoredItem) bool {
	for _, o := range others {
		if s.topics.IsDuplicateTopic(it.Result.Headline, o.Result.Headline) {
			return true
		}
	}
	return false
}

// primary は主要セクションを選ぶ。
// 媒体ごとの上限を守って一次候補を集め、優先度2位以下のカテゴリを最低1件ずつ確保した上で、
// 残りをスコア順に埋める。
func (s *Selector) primary(pool []model.ScoredItem) []model.ScoredItem {
	counts := make(map[string]int)
	var initial []model.ScoredItem
	for _, it := range pool {
		if len(initial) >= s.cfg.PrimaryPool {
			break
		}
		src := it.Result.Source
		if counts[src] < s.cfg.PrimarySourceCap {
			initial = append(initial, it)
			counts[src]++
		}
	}

	var reserved []model.ScoredItem
	for _, cat := range s.cfg.CategoryPriority[1:] {
		if it, ok := firstOf(initial, cat); ok {
			reserved = append(reserved, it)
			continue
		}
		it, ok := s.forcedPick(pool, initial, cat, counts)
		if !ok {
			continue
		}
		it.Forced = true
		initial = append(initial, it)
		counts[it.Result.Source]++
		reserved = append(reserved, it)
	}

	used := make(map[string]bool)
	var out []model.ScoredItem
	for _, it := range append(reserved, initial...) {
		if len(out) >= s.cfg.PrimarySize {
			break
		}
		if used[it.URL()] {
			continue
		}
		used[it.URL()] = true
		out = append(out, it)
	}

	rank := make(map[model.Category]int, len(s.cfg.CategoryPriority))
	for i, c := range s.cfg.CategoryPriority {
		rank[c] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := categoryRank(rank, out[i].Category), categoryRank(rank, out[j].Category)
		if ri != rj {
			return ri < rj
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// forcedPick は一次候補にないカテゴリの最高スコア記事を全体から探す。
// 媒体上限に余裕のある記事を優先し、なければ上限を超えて採用する。
func (s *Selector) forcedPick(pool, initial []model.ScoredItem, cat model.Category, counts map[string]int) (model.ScoredItem, bool) {
	in := make(map[string]bool, len(initial))
	for _, it := range initial {
		in[it.URL()] = true
	}

	var fallback *model.ScoredItem
	for i := range pool {
		it := pool[i]
		if it.Category != cat || in[it.URL()] {
			continue
		}
		if counts[it.Result.Source] < s.cfg.PrimarySourceCap {
			return it, true
		}
		if fallback == nil {
			fallback = &pool[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return model.ScoredItem{}, false
}

// secondary は一般セクションを選ぶ。
// 掲載可能な階層の媒体のみを対象とし、主要セクションおよび互いとの話題重複を除き、
// 媒体上限を適用した後、国旗の偏りを入れ替えで緩和する。
func (s *Selector) secondary(pool, primary []model.ScoredItem) []model.ScoredItem {
	inPrimary := make(map[string]bool, len(primary))
	for _, it := range primary {
		inPrimary[it.URL()] = true
	}

	counts := make(map[string]int)
	var candidates []model.ScoredItem
	for _, it := range pool {
		if inPrimary[it.URL()] || !it.Eligible {
			continue
		}
		if s.duplicateOf(it, primary) || s.duplicateOf(it, candidates) {
			continue
		}
		if counts[it.Result.Source] >= s.cfg.SecondarySourceCap {
			continue
		}
		counts[it.Result.Source]++
		candidates = append(candidates, it)
	}

	n := min(len(candidates), s.cfg.SecondarySize)
	top := append([]model.ScoredItem(nil), candidates[:n]...)
	rest := append([]model.ScoredItem(nil), candidates[n:]...)
	top = swapGeography(top, rest, s.cfg.SecondaryGeoCap)

	sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
	return top
}

// swapGeography は上限を超えた国旗の記事を、スコアの低いものから順に
// 上限に余裕のある国旗の記事と入れ替える。代替がない場合はそのまま残す。
// topとrestはスコアの降順であること。
func swapGeography(top, rest []model.ScoredItem, limit int) []model.ScoredItem {
	if limit <= 0 {
		return top
	}
	counts := make(map[string]int)
	for _, it := range top {
		counts[it.Flag]++
	}

	for i := len(top) - 1; i >= 0; i-- {
		flag := top[i].Flag
		if counts[flag] <= limit {
			continue
		}
		j := -1
		for k, r := range rest {
			if counts[r.Flag] < limit {
				j = k
				break
			}
		}
		if j < 0 {
			break
		}
		sub := rest[j]
		rest = append(rest[:j], rest[j+1:]...)
		counts[flag]--
		counts[sub.Flag]++
		top[i] = sub
	}
	return top
}

func firstOf(items []model.ScoredItem, cat model.Category) (model.ScoredItem, bool) {
	for _, it := range items {
		if it.Category == cat {
			return it, true
		}
	}
	return model.ScoredItem{}, false
}

func categoryRank(rank map[model.Category]int, c model.Category) int {
	if r, ok := rank[c]; ok {
		return r
	}
	return len(rank)
}

func resultURL(r model.ValidationResult) string {
	if r.ResolvedURL != "" {
		return r.ResolvedURL
	}
	return r.Candidate.URL
}
