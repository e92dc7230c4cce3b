package recency

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// Searcher はWeb検索バックエンド。呼び出し間隔の制御は実装側が行う。
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
}

// SweepConfig は投稿収集の設定。
type SweepConfig struct {
	Batches      [][]string
	Excluded     []string // 基準IDの取得にのみ使うアカウント
	MaxAge       time.Duration
	MinTitle     int
	MaxPosts     int
	MaxPerHandle int
	MaxDelta     int64 // 0の場合はDefaultMaxDelta
	Limit        int   // 1クエリあたりの取得件数
}

// SweepReport は投稿収集の実施状況。
type SweepReport struct {
	HandlesSearched    []string `json:"handles_searched"`
	HandlesWithResults []string `json:"handles_with_results"`
	HandlesNoResults   []string `json:"handles_no_results"`
	SearchCalls        int      `json:"total_search_calls"`
	SearchErrors       int      `json:"search_errors"`
	ShortTitles        int      `json:"short_titles_skipped"`
}

// Sweep は投稿収集の結果。
type Sweep struct {
	Posts       []model.SocialPost
	Rejected    []model.SocialPost
	ReferenceID uint64
	Report      SweepReport
}

// Sweeper はハンドルのバッチごとに検索し、投稿の鮮度を検証する。
type Sweeper struct {
	searcher Searcher
	cfg      SweepConfig
	logger   *slog.Logger
}

// NewSweeper は新しいSweeperを生成する。
func NewSweeper(searcher Searcher, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultMaxDelta
	}
	return &Sweeper{searcher: searcher, cfg: cfg, logger: logger}
}

// BatchQuery はハンドルのバッチから検索クエリを組み立てる。
func BatchQuery(handles []string, anchor time.Time) string {
	clauses := make([]string, len(handles))
	for i, h := range handles {
		clauses[i] = fmt.Sprintf("site:x.com/%s/status", h)
	}
	return fmt.Sprintf("(%s) %s", strings.Join(clauses, " OR "), anchor.Format("January 2006"))
}

// ReferenceQuery は基準IDを得るための除外アカウントの検索クエリを返す。
func ReferenceQuery(accounts []string) string {
	clauses := make([]string, len(accounts))
	for i, a := range accounts {
		clauses[i] = fmt.Sprintf("site:x.com/%s/status", a)
	}
	return strings.Join(clauses, " OR ")
}

// Sweep は全バッチを順に検索する。検索の失敗はバッチ単位で記録し、処理を続行する。
func (s *Sweeper) Sweep(ctx context.Context, anchor time.Time) Sweep {
	out := Sweep{}
	for _, b := range s.cfg.Batches {
		for _, h := range b {
			out.Report.HandlesSearched = append(out.Report.HandlesSearched, "@"+h)
		}
	}

	if len(s.cfg.Excluded) > 0 {
		out.ReferenceID = s.findReference(ctx, &out.Report)
	}

	seen := make(map[uint64]struct{})
	withResults := make(map[string]struct{})
	var accepted []model.SocialPost

	for i, batch := range s.cfg.Batches {
		if ctx.Err() != nil {
			break
		}
		query := BatchQuery(batch, anchor)
		results, err := s.searcher.Search(ctx, query, s.cfg.Limit)
		out.Report.SearchCalls++
		if err != nil {
			out.Report.SearchErrors++
			s.logger.Warn("投稿検索に失敗しました",
				slog.Int("batch", i+1),
				slog.String("backend", s.searcher.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, r := range results {
			post, ok := s.evaluate(r, anchor, out.ReferenceID, seen, &out.Report)
			if !ok {
				continue
			}
			if post.Verdict != model.VerdictValid {
				out.Rejected = append(out.Rejected, post)
				continue
			}
			withResults[post.Handle] = struct{}{}
			accepted = append(accepted, post)
		}
	}

	out.Posts = s.capPosts(accepted)

	for _, h := range out.Report.HandlesSearched {
		if _, ok := withResults[h]; ok {
			out.Report.HandlesWithResults = append(out.Report.HandlesWithResults, h)
		} else {
			out.Report.HandlesNoResults = append(out.Report.HandlesNoResults, h)
		}
	}

	s.logger.Info("投稿収集完了",
		slog.Int("accepted", len(accepted)),
		slog.Int("kept", len(out.Posts)),
		slog.Int("rejected", len(out.Rejected)),
		slog.Int("handles_with_results", len(out.Report.HandlesWithResults)),
	)
	return out
}

// findReference は除外アカウントの投稿のうち最大のIDを返す。見つからない場合は0。
func (s *Sweeper) findReference(ctx context.Context, report *SweepReport) uint64 {
	results, err := s.searcher.Search(ctx, ReferenceQuery(s.cfg.Excluded), s.cfg.Limit)
	report.SearchCalls++
	if err != nil {
		report.SearchErrors++
		s.logger.Warn("基準投稿の検索に失敗しました", slog.String("error", err.Error()))
		return 0
	}
	var ref uint64
	for _, r := range results {
		st, ok := ParseStatusURL(r.URL)
		if !ok || !s.isExcluded(st.Handle) {
			continue
		}
		ref = max(ref, st.ID)
	}
	return ref
}

func (s *Sweeper) isExcluded(handle string) bool {
	for _, a := range s.cfg.Excluded {
		if strings.EqualFold(a, handle) {
			return true
		}
	}
	return false
}

// evaluate は1件の検索結果を検証する。対象外の結果はokがfalseになる。
func (s *Sweeper) evaluate(r model.SearchResult, anchor time.Time, ref uint64, seen map[uint64]struct{}, report *SweepReport) (model.SocialPost, bool) {
	st, ok := ParseStatusURL(r.URL)
	if !ok || s.isExcluded(st.Handle) {
		return model.SocialPost{}, false
	}
	if _, dup := seen[st.ID]; dup {
		return model.SocialPost{}, false
	}
	seen[st.ID] = struct{}{}

	posted := PostTime(st.ID)
	age := anchor.Sub(posted).Hours()
	post := model.SocialPost{
		Handle:   "@" + st.Handle,
		StatusID: st.ID,
		URL:      st.URL,
		Title:    strings.TrimSpace(r.Title),
		PostedAt: posted,
		AgeHours: math.Round(age*10) / 10,
		Verdict:  model.VerdictValid,
	}

	switch {
	case age > s.cfg.MaxAge.Hours():
		post.Verdict = model.VerdictStale
		post.Reason = fmt.Sprintf("Post is %.0f hours old (max %.0f)", age, s.cfg.MaxAge.Hours())
	case age < -1:
		post.Verdict = model.VerdictStale
		post.Reason = "Post time is later than the run anchor"
	}
	if post.Verdict == model.VerdictValid && ref > 0 {
		if d := CompareToReference(st.ID, ref, s.cfg.MaxDelta); !d.Passed {
			post.Verdict = model.VerdictStale
			post.Reason = d.Reason
		}
	}
	if post.Verdict == model.VerdictValid && post.Title != "" && len(post.Title) < s.cfg.MinTitle {
		report.ShortTitles++
		return model.SocialPost{}, false
	}
	return post, true
}

// capPosts は新しい順に並べ、ハンドルごとの上限と全体の上限を適用する。
func (s *Sweeper) capPosts(posts []model.SocialPost) []model.SocialPost {
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].AgeHours < posts[j].AgeHours })

	counts := make(map[string]int)
	var out []model.SocialPost
	for _, p := range posts {
		counts[p.Handle]++
		if counts[p.Handle] > s.cfg.MaxPerHandle {
			continue
		}
		out = append(out, p)
		if len(out) >= s.cfg.MaxPosts {
			break
		}
	}
	return out
}
