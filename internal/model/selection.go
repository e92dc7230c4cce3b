package model

import "time"

// Category は主要セクションのカテゴリ。
type Category string

const (
	CategoryHealth   Category = "health"
	CategoryTech     Category = "tech"
	CategoryBusiness Category = "business"
)

// Section は選定結果の出力先セクション。
type Section string

const (
	SectionPrimary   Section = "primary"
	SectionSecondary Section = "secondary"
	SectionLocal     Section = "local"
	SectionNone      Section = ""
)

// ScoredItem はスコアリング済みの有効記事。
type ScoredItem struct {
	Result   ValidationResult
	Score    int
	Category Category
	Flag     string
	Tier     int
	Eligible bool
	Forced   bool // カテゴリ保証のために取り込まれた
}

// URL は解決済みURLを返す。
func (s ScoredItem) URL() string {
	if s.Result.ResolvedURL != "" {
		return s.Result.ResolvedURL
	}
	return s.Result.Candidate.URL
}

// Selection は選定段階の出力。
type Selection struct {
	Primary   []ScoredItem
	Secondary []ScoredItem
	Local     []ScoredItem
	// Filtered は言語・ダイジェスト判定で除外された件数。
	Filtered int
	// Duplicates は話題重複で除外された件数。
	Duplicates int
}

// SocialPost はソーシャル投稿の検証結果。
type SocialPost struct {
	Handle   string
	StatusID uint64
	URL      string
	Title    string
	PostedAt time.Time
	AgeHours float64
	Verdict  Verdict
	Reason   string
}
