// Package audit は1回の実行の監査記録と生成層への受け渡しデータを組み立てる。
package audit

import (
	"strings"
	"time"

	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/discovery"
	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/recency"
	"github.com/hitoshi/newsbrief/internal/tier"
)

// 監査表のセクション名。選定に使われなかった記事の区分を含む。
const (
	SectionPrimary    = string(model.SectionPrimary)
	SectionSecondary  = string(model.SectionSecondary)
	SectionLocal      = string(model.SectionLocal)
	SectionUnselected = "unselected"
	SectionRejected   = "rejected"
)

// secondaryTallyCap は一般ニュース枠の媒体集計で許す同一媒体の件数。
const secondaryTallyCap = 3

// Summary は判定ごとの件数。
type Summary struct {
	TotalCandidates int            `json:"total_candidates"`
	Valid           int            `json:"valid"`
	Stale           int            `json:"stale_rejected"`
	Unverified      int            `json:"unverified_rejected"`
	Error           int            `json:"error"`
	ErrorKinds      map[string]int `json:"error_kinds"`
	FutureDated     int            `json:"future_dated"`
	Primary         int            `json:"primary"`
	Secondary       int            `json:"secondary"`
	Local           int            `json:"local"`
	Filtered        int            `json:"filtered"`
	Duplicates      int            `json:"duplicates"`
	SocialPosts     int            `json:"social_posts"`
}

// AgeRow は鮮度検証表の1行。
type AgeRow struct {
	ID           int    `json:"id"`
	Headline     string `json:"headline"`
	Source       string `json:"source"`
	URL          string `json:"url"`
	VerifiedDate string `json:"verified_date,omitempty"`
	AgeHours     *int   `json:"age_hours"`
	FutureDated  bool   `json:"future_dated,omitempty"`
	Verdict      string `json:"verdict"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Section      string `json:"section"`
	DateMethod   string `json:"date_method,omitempty"`
	ReadTimeMin  int    `json:"read_time_min,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// MandatoryEntry は必須媒体ごとの確認結果。
type MandatoryEntry struct {
	Source       string `json:"source"`
	Headline     string `json:"headline"`
	VerifiedDate string `json:"verified_date,omitempty"`
	AgeHours     *int   `json:"age_hours"`
	Verdict      string `json:"verdict"`
	Reason       string `json:"reason"`
}

// VerificationEntry はURLごとの取得結果。
type VerificationEntry struct {
	URL            string `json:"url"`
	Section        string `json:"section"`
	FetchStatus    int    `json:"fetch_status,omitempty"`
	Verdict        string `json:"verdict"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	FetchLatencyMs int64  `json:"fetch_latency_ms,omitempty"`
}

// SocialRow は投稿の検証表の1行。
type SocialRow struct {
	Handle   string  `json:"handle"`
	StatusID uint64  `json:"status_id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	PostedAt string  `json:"posted_at"`
	AgeHours float64 `json:"age_hours"`
	Verdict  string  `json:"verdict"`
	Reason   string  `json:"reason,omitempty"`
}

// Record は1回の実行の監査記録。本文テキストは含めない。
type Record struct {
	RunID           string              `json:"run_id"`
	BriefingDate    string              `json:"briefing_date"`
	DeliveryTime    time.Time           `json:"delivery_time"`
	MaxAgeHours     int                 `json:"max_age_hours"`
	Summary         Summary             `json:"summary"`
	AgeVerification []AgeRow            `json:"age_verification_table"`
	SecondaryTally  tier.TallyReport    `json:"secondary_source_tally"`
	MandatoryLog    []MandatoryEntry    `json:"mandatory_source_log"`
	Verification    []VerificationEntry `json:"url_verification_log"`
	Social          []SocialRow         `json:"social_status_table"`
	SocialReport    recency.SweepReport `json:"social_sweep_report"`
	Discovery       discovery.Stats     `json:"discovery"`
}

// HandoffItem は生成層へ渡す1件。
type HandoffItem struct {
	Headline     string    `json:"headline"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	PublishedAt  time.Time `json:"published_at"`
	VerifiedDate string    `json:"verified_date,omitempty"` // 表示用（例: "Feb 2, 2026"）
	AgeHours     int       `json:"age_hours"`
	Category     string    `json:"category"`
	Flag         string    `json:"flag"`
	Score        int       `json:"score"`
	Tier         int       `json:"tier"`
	ReadTimeMin  int       `json:"read_time_min"`
	Paywalled    bool      `json:"paywalled"`
	Forced       bool      `json:"forced,omitempty"`
	BodyText     string    `json:"body_text,omitempty"`
}

// Handoff は生成層への受け渡しデータ。各リストは選定時の順序を保つ。
type Handoff struct {
	RunID        string        `json:"run_id"`
	BriefingDate string        `json:"briefing_date"`
	DeliveryTime time.Time     `json:"delivery_time"`
	Primary      []HandoffItem `json:"primary"`
	Secondary    []HandoffItem `json:"secondary"`
	Local        []HandoffItem `json:"local"`
	Social       []SocialRow   `json:"social"`
}

// TierTally は一般ニュース枠の媒体集計のインターフェース。
type TierTally interface {
	Tally(items []tier.TallyItem, cap int) tier.TallyReport
}

// Accumulator は各段階の結果を受け取り、監査記録を組み立てる。
// 1回の実行につき1つ生成し、実行を担うgoroutineだけが使う。
type Accumulator struct {
	runID        string
	deliveryTime time.Time
	maxAgeHours  int
	tally        TierTally
	mandatory    []catalog.MandatorySource

	stats     discovery.Stats
	buckets   model.Buckets
	selection model.Selection
	sweep     recency.Sweep
}

// NewAccumulator はAccumulatorを生成する。
func NewAccumulator(runID string, deliveryTime time.Time, maxAgeHours int, tally TierTally, mandatory []catalog.MandatorySource) *Accumulator {
	return &Accumulator{
		runID:        runID,
		deliveryTime: deliveryTime,
		maxAgeHours:  maxAgeHours,
		tally:        tally,
		mandatory:    mandatory,
	}
}

// RecordDiscovery は収集の統計を記録する。
func (a *Accumulator) RecordDiscovery(stats discovery.Stats) { a.stats = stats }

// RecordValidation は検証結果を記録する。
func (a *Accumulator) RecordValidation(b model.Buckets) { a.buckets = b }

// RecordSelection は選定結果を記録する。
func (a *Accumulator) RecordSelection(sel model.Selection) { a.selection = sel }

// RecordSocial は投稿収集の結果を記録する。
func (a *Accumulator) RecordSocial(s recency.Sweep) { a.sweep = s }

// Build は監査記録を組み立てる。
func (a *Accumulator) Build() Record {
	all := a.buckets.All()
	sections := a.sectionIndex()

	r := Record{
		RunID:        a.runID,
		BriefingDate: a.deliveryTime.Format("2006-01-02"),
		DeliveryTime: a.deliveryTime,
		MaxAgeHours:  a.maxAgeHours,
		SocialReport: a.sweep.Report,
		Discovery:    a.stats,
	}

	r.Summary = Summary{
		TotalCandidates: a.buckets.Total(),
		Valid:           len(a.buckets.Valid),
		Stale:           len(a.buckets.Stale),
		Unverified:      len(a.buckets.Unverified),
		Error:           len(a.buckets.Error),
		ErrorKinds:      make(map[string]int),
		Primary:         len(a.selection.Primary),
		Secondary:       len(a.selection.Secondary),
		Local:           len(a.selection.Local),
		Filtered:        a.selection.Filtered,
		Duplicates:      a.selection.Duplicates,
		SocialPosts:     len(a.sweep.Posts),
	}
	for _, res := range a.buckets.Error {
		r.Summary.ErrorKinds[string(res.ErrorKind)]++
	}

	r.AgeVerification = make([]AgeRow, 0, len(all))
	for i, res := range all {
		if res.FutureDated {
			r.Summary.FutureDated++
		}
		row := AgeRow{
			ID:          i + 1,
			Headline:    res.Headline,
			Source:      res.Source,
			URL:         resultURL(res),
			FutureDated: res.FutureDated,
			Verdict:     string(res.Verdict),
			ErrorKind:   string(res.ErrorKind),
			Section:     sectionOf(res, sections),
			DateMethod:  res.DateMethod,
			ReadTimeMin: res.ReadTimeMin,
			Reason:      res.Reason,
		}
		if !res.PublishedAt.IsZero() {
			row.VerifiedDate = res.PublishedAt.Format(time.RFC3339)
			age := res.AgeHours
			row.AgeHours = &age
		}
		r.AgeVerification = append(r.AgeVerification, row)
	}

	r.SecondaryTally = a.secondaryTally()
	r.MandatoryLog = a.mandatoryLog(all)
	r.Verification = a.verificationLog(all, sections)
	r.Social = socialRows(a.sweep.Posts)
	for _, p := range a.sweep.Rejected {
		r.Social = append(r.Social, socialRow(p))
	}
	return r
}

// Handoff は生成層への受け渡しデータを組み立てる。
func (a *Accumulator) Handoff() Handoff {
	return Handoff{
		RunID:        a.runID,
		BriefingDate: a.deliveryTime.Format("2006-01-02"),
		DeliveryTime: a.deliveryTime,
		Primary:      handoffItems(a.selection.Primary),
		Secondary:    handoffItems(a.selection.Secondary),
		Local:        handoffItems(a.selection.Local),
		Social:       socialRows(a.sweep.Posts),
	}
}

func (a *Accumulator) sectionIndex() map[string]string {
	idx := make(map[string]string)
	for _, it := range a.selection.Local {
		idx[it.URL()] = SectionLocal
	}
	for _, it := range a.selection.Secondary {
		idx[it.URL()] = SectionSecondary
	}
	for _, it := range a.selection.Primary {
		idx[it.URL()] = SectionPrimary
	}
	return idx
}

func sectionOf(res model.ValidationResult, idx map[string]string) string {
	if s, ok := idx[resultURL(res)]; ok {
		return s
	}
	if res.Verdict != model.VerdictValid {
		return SectionRejected
	}
	return SectionUnselected
}

func (a *Accumulator) secondaryTally() tier.TallyReport {
	items := make([]tier.TallyItem, 0, len(a.selection.Secondary))
	for _, it := range a.selection.Secondary {
		items = append(items, tier.TallyItem{
			Source:   it.Result.Source,
			URL:      it.URL(),
			Headline: it.Result.Headline,
		})
	}
	return a.tally.Tally(items, secondaryTallyCap)
}

// mandatoryLog は必須媒体ごとに最良の結果を1件記録する。有効な記事を優先する。
func (a *Accumulator) mandatoryLog(all []model.ValidationResult) []MandatoryEntry {
	out := make([]MandatoryEntry, 0, len(a.mandatory))
	for _, m := range a.mandatory {
		name := strings.ToLower(m.Name)
		var best *model.ValidationResult
		for i := range all {
			if !strings.Contains(strings.ToLower(all[i].Source), name) {
				continue
			}
			if best == nil || (best.Verdict != model.VerdictValid && all[i].Verdict == model.VerdictValid) {
				best = &all[i]
			}
		}

		if best == nil {
			out = append(out, MandatoryEntry{
				Source:   m.Name,
				Headline: "(no articles found)",
				Verdict:  "no_results",
				Reason:   "No articles surfaced within search window",
			})
			continue
		}

		e := MandatoryEntry{
			Source:   m.Name,
			Headline: best.Headline,
			Verdict:  string(best.Verdict),
			Reason:   best.Reason,
		}
		if best.Verdict == model.VerdictValid {
			e.Reason = "Fresh article found"
		} else if e.Reason == "" {
			e.Reason = "No fresh articles"
		}
		if !best.PublishedAt.IsZero() {
			e.VerifiedDate = best.PublishedAt.Format(time.RFC3339)
			age := best.AgeHours
			e.AgeHours = &age
		}
		out = append(out, e)
	}
	return out
}

func (a *Accumulator) verificationLog(all []model.ValidationResult, sections map[string]string) []VerificationEntry {
	seen := make(map[string]struct{})
	var out []VerificationEntry
	for _, res := range all {
		u := resultURL(res)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, VerificationEntry{
			URL:            u,
			Section:        sectionOf(res, sections),
			FetchStatus:    res.HTTPStatus,
			Verdict:        string(res.Verdict),
			ErrorKind:      string(res.ErrorKind),
			Resolution:     res.Resolution,
			FetchLatencyMs: res.FetchLatency.Milliseconds(),
		})
	}
	for _, p := range a.sweep.Posts {
		if _, ok := seen[p.URL]; ok {
			continue
		}
		seen[p.URL] = struct{}{}
		out = append(out, VerificationEntry{URL: p.URL, Section: "social", Verdict: string(p.Verdict)})
	}
	return out
}

const displayDateLayout = "Jan 2, 2006"

func handoffItems(items []model.ScoredItem) []HandoffItem {
	out := make([]HandoffItem, 0, len(items))
	for _, it := range items {
		var verified string
		if !it.Result.PublishedAt.IsZero() {
			verified = it.Result.PublishedAt.Format(displayDateLayout)
		}
		out = append(out, HandoffItem{
			Headline:     it.Result.Headline,
			Source:       it.Result.Source,
			URL:          it.URL(),
			PublishedAt:  it.Result.PublishedAt,
			VerifiedDate: verified,
			AgeHours:     it.Result.AgeHours,
			Category:     string(it.Category),
			Flag:         it.Flag,
			Score:        it.Score,
			Tier:         it.Tier,
			ReadTimeMin:  it.Result.ReadTimeMin,
			Paywalled:    it.Result.Paywalled,
			Forced:       it.Forced,
			BodyText:     it.Result.BodyText,
		})
	}
	return out
}

func socialRows(posts []model.SocialPost) []SocialRow {
	out := make([]SocialRow, 0, len(posts))
	for _, p := range posts {
		out = append(out, socialRow(p))
	}
	return out
}

func socialRow(p model.SocialPost) SocialRow {
	return SocialRow{
		Handle:   p.Handle,
		StatusID: p.StatusID,
		URL:      p.URL,
		Title:    p.Title,
		PostedAt: p.PostedAt.UTC().Format(time.RFC3339),
		AgeHours: p.AgeHours,
		Verdict:  string(p.Verdict),
		Reason:   p.Reason,
	}
}

func resultURL(r model.ValidationResult) string {
	if r.ResolvedURL != "" {
		return r.ResolvedURL
	}
	return r.Candidate.URL
}
