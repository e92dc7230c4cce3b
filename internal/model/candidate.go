package model

import "time"

// Origin は候補がどの経路で発見されたかを表す。
type Origin string

const (
	OriginFeed     Origin = "feed"
	OriginSearch   Origin = "search"
	OriginFallback Origin = "fallback"
	OriginSocial   Origin = "social"
)

// Candidate は発見段階で得られた未検証の記事候補。
// 発見後は読み取り専用として扱う。
type Candidate struct {
	Index    int    // 発見順。検証後のバケット内の並び順に使う
	URL      string // 記事URL。ラッパーURLの場合もある
	Headline string
	Source   string // 表示用の媒体名。空の場合は最終URLから推定する
	Origin   Origin
	Feed     string // 発見元のフィード名または検索クエリ
	DateHint string // 検索結果に付随する日付文字列
	Local    bool   // 地域ニュースクエリ由来
}

// Verdict は候補検証の判定。
type Verdict string

const (
	VerdictValid      Verdict = "valid"
	VerdictStale      Verdict = "stale"
	VerdictUnverified Verdict = "unverified"
	VerdictError      Verdict = "error"
)

// ErrorKind は error 判定の内訳。
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindResolution ErrorKind = "resolution"
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindInternal   ErrorKind = "internal"
)

// DateMethodSearchHint は検索結果の日付文字列で公開日を確定したことを表す。
const DateMethodSearchHint = "search-hint"

// ValidationResult は1候補の検証結果。
// Verdict が valid の場合のみ ResolvedURL と PublishedAt が必ず設定される。
type ValidationResult struct {
	Candidate   Candidate
	ResolvedURL string
	Headline    string
	Source      string

	Verdict   Verdict
	ErrorKind ErrorKind
	Reason    string

	PublishedAt  time.Time
	AgeHours     int
	FutureDated  bool
	DateMethod   string
	ReadTimeMin  int
	Paywalled    bool
	BodyText     string
	HTTPStatus   int
	Resolution   string // ラッパー解決に成功した手段
	FetchLatency time.Duration
}

// Buckets は検証結果を判定ごとに振り分けたもの。
// 各バケット内は候補の発見順に並ぶ。
type Buckets struct {
	Valid      []ValidationResult
	Stale      []ValidationResult
	Unverified []ValidationResult
	Error      []ValidationResult
}

// Total は全バケットの件数合計を返す。
func (b Buckets) Total() int {
	return len(b.Valid) + len(b.Stale) + len(b.Unverified) + len(b.Error)
}

// All は全結果を valid, stale, unverified, error の順に連結して返す。
func (b Buckets) All() []ValidationResult {
	out := make([]ValidationResult, 0, b.Total())
	out = append(out, b.Valid...)
	out = append(out, b.Stale...)
	out = append(out, b.Unverified...)
	out = append(out, b.Error...)
	return out
}

// SearchResult は検索バックエンドが返す1件の結果。
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Source  string
	Date    string
}
