// Package catalog はパイプラインが参照する静的テーブル群を提供する。
// テーブルは設定データとして扱い、起動時に1回読み込んだ後は読み取り専用とする。
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Catalog は参照テーブル全体を保持する。
type Catalog struct {
	Tiers          Tiers             `yaml:"tiers"`
	DomainRemaps   []DomainName      `yaml:"domain_remaps"`
	SourceDomains  []DomainName      `yaml:"source_domains"`
	Paywall        Paywall           `yaml:"paywall"`
	Similarity     Similarity        `yaml:"similarity"`
	Language       Language          `yaml:"language"`
	DigestPatterns []string          `yaml:"digest_patterns"`
	LocalTopics    []string          `yaml:"local_topics"`
	Scoring        Scoring           `yaml:"scoring"`
	Categories     Categories        `yaml:"categories"`
	Flags          Flags             `yaml:"flags"`
	Feeds          []Feed            `yaml:"feeds"`
	FeedLimit      int               `yaml:"feed_limit"`
	SearchLimit    int               `yaml:"search_limit"`
	QueryGroups    []QueryGroup      `yaml:"query_groups"`
	Mandatory      []MandatorySource `yaml:"mandatory_sources"`
	Wrappers       Wrappers          `yaml:"wrappers"`
	Social         Social            `yaml:"social"`
}

// Tiers は媒体名の階層テーブル。名前は小文字で記述する。
type Tiers struct {
	Tier1 []string `yaml:"tier1"`
	Tier2 []string `yaml:"tier2"`
	Tier3 []string `yaml:"tier3"`
	Local []string `yaml:"local"`
}

// DomainName はURL断片と媒体名の対応。
type DomainName struct {
	Fragment string `yaml:"fragment"`
	Source   string `yaml:"source"`
}

type Paywall struct {
	ScanBytes int      `yaml:"scan_bytes"`
	Domains   []string `yaml:"domains"`
	Markers   []string `yaml:"markers"`
}

type Similarity struct {
	StopWords []string          `yaml:"stop_words"`
	Aliases   map[string]string `yaml:"aliases"`
}

// Language は除外対象言語の判定テーブル。
type Language struct {
	MinWords    int      `yaml:"min_words"`
	Threshold   float64  `yaml:"threshold"`
	URLSegments []string `yaml:"url_segments"`
	Markers     []string `yaml:"markers"`
}

// KeywordGroup は加点キーワード群。Once の場合は最初の一致のみ加点する。
type KeywordGroup struct {
	Name     string   `yaml:"name"`
	Weight   int      `yaml:"weight"`
	Once     bool     `yaml:"once"`
	Keywords []string `yaml:"keywords"`
}

type SourceBoost struct {
	Source string `yaml:"source"`
	Boost  int    `yaml:"boost"`
}

type PressRelease struct {
	SinglePenalty int      `yaml:"single_penalty"`
	MultiPenalty  int      `yaml:"multi_penalty"`
	Signals       []string `yaml:"signals"`
}

type Scoring struct {
	Groups            []KeywordGroup `yaml:"groups"`
	HighSignalSources []SourceBoost  `yaml:"high_signal_sources"`
	PressRelease      PressRelease   `yaml:"press_release"`
}

type CategorySources struct {
	Category string   `yaml:"category"`
	Sources  []string `yaml:"sources"`
}

type CategoryKeywords struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Categories はカテゴリ判定テーブル。媒体名による判定をキーワードより優先する。
type Categories struct {
	Priority []string           `yaml:"priority"`
	Default  string             `yaml:"default"`
	Sources  []CategorySources  `yaml:"sources"`
	Keywords []CategoryKeywords `yaml:"keywords"`
}

type FlagEntry struct {
	Flag     string   `yaml:"flag"`
	Keywords []string `yaml:"keywords"`
}

type Flags struct {
	Default string      `yaml:"default"`
	Entries []FlagEntry `yaml:"entries"`
}

type Feed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// QueryGroup は検索クエリのまとまり。Local のクエリ由来の候補は地域フラグ付きになる。
type QueryGroup struct {
	Name    string   `yaml:"name"`
	Local   bool     `yaml:"local"`
	Queries []string `yaml:"queries"`
}

// MandatorySource はフィードが空だった場合に site: 検索で補う必須媒体。
type MandatorySource struct {
	Name          string `yaml:"name"`
	FallbackQuery string `yaml:"fallback_query"`
}

type Wrappers struct {
	Hosts           []string `yaml:"hosts"`
	ConsentHosts    []string `yaml:"consent_hosts"`
	AggregatorHosts []string `yaml:"aggregator_hosts"`
	Referer         string   `yaml:"referer"`
}

type Social struct {
	Batches          [][]string `yaml:"batches"`
	ExcludedAccounts []string   `yaml:"excluded_accounts"`
}

// Handles はバッチ順に全ハンドルを返す。
func (s Social) Handles() []string {
	var out []string
	for _, b := range s.Batches {
		out = append(out, b...)
	}
	return out
}

// Default は埋め込みのデフォルトテーブルを返す。
func Default() (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(defaultsYAML, c); err != nil {
		return nil, fmt.Errorf("decode default catalog: %w", err)
	}
	return c, nil
}

// Load はデフォルトテーブルにpathのYAMLを重ねて返す。
// pathが空の場合はデフォルトのみを返す。
// 上書きファイルに書かれたキーのみ置き換わり、aliasesは既存のマップに追加される。
func Load(path string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return c, nil
}
