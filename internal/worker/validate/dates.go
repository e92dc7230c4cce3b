package validate

import (
	"encoding/json"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// DateStrategy はページから公開日を取り出す1つの手段。
// 見つかった場合は日時と記録用の手段名を返す。
type DateStrategy interface {
	Extract(doc *goquery.Document, ref time.Time) (time.Time, string, bool)
}

// Cascade は複数の手段を順に試し、最初に成功した結果を採用する。
type Cascade struct {
	strategies []DateStrategy
}

// NewCascade は指定順に手段を試すCascadeを生成する。
func NewCascade(strategies ...DateStrategy) *Cascade {
	return &Cascade{strategies: strategies}
}

// DefaultCascade はメタタグ、JSON-LD、timeタグ、クラス名ヒューリスティックの順に試す。
func DefaultCascade() *Cascade {
	return NewCascade(MetaStrategy{}, JSONLDStrategy{}, TimeTagStrategy{}, ClassHeuristicStrategy{})
}

// Extract は公開日を抽出する。refはクラス名ヒューリスティックの妥当性確認に使う。
func (c *Cascade) Extract(doc *goquery.Document, ref time.Time) (time.Time, string, bool) {
	for _, s := range c.strategies {
		if t, method, ok := s.Extract(doc, ref); ok {
			return t.UTC(), method, true
		}
	}
	return time.Time{}, "", false
}

// parseDate はタイムゾーンのない日時をUTCとして解釈する。
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// metaField は公開日を持つメタタグ。attrはpropertyまたはname。
type metaField struct {
	attr string
	name string
}

var metaFields = []metaField{
	{"property", "article:published_time"},
	{"property", "og:published_time"},
	{"name", "pubdate"},
	{"name", "date"},
	{"name", "DC.date"},
	{"name", "sailthru.date"},
}

// MetaStrategy はOpen Graph等のメタタグから公開日を取り出す。
type MetaStrategy struct{}

func (MetaStrategy) Extract(doc *goquery.Document, _ time.Time) (time.Time, string, bool) {
	metas := doc.Find("meta")
	for _, f := range metaFields {
		meta := metas.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.AttrOr(f.attr, "") == f.name
		}).First()
		if meta.Length() == 0 {
			continue
		}
		if t, ok := parseDate(meta.AttrOr("content", "")); ok {
			return t, "meta:" + f.name, true
		}
	}
	return time.Time{}, "", false
}

var jsonLDKeys = []string{"datePublished", "dateCreated"}

// JSONLDStrategy はJSON-LDブロックから公開日を取り出す。
// トップレベルの配列・オブジェクトと、オブジェクト直下の@graphを探索する。
type JSONLDStrategy struct{}

func (JSONLDStrategy) Extract(doc *goquery.Document, _ time.Time) (time.Time, string, bool) {
	var (
		found  time.Time
		method string
		ok     bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		found, method, ok = dateFromLinkedData(data)
		return !ok
	})
	return found, method, ok
}

func dateFromLinkedData(data any) (time.Time, string, bool) {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if obj, isObj := item.(map[string]any); isObj {
				if key, raw, has := linkedDataDate(obj); has {
					return parsedLinkedData(key, raw)
				}
			}
		}
	case map[string]any:
		if key, raw, has := linkedDataDate(v); has {
			return parsedLinkedData(key, raw)
		}
		if graph, isList := v["@graph"].([]any); isList {
			for _, item := range graph {
				if obj, isObj := item.(map[string]any); isObj {
					if key, raw, has := linkedDataDate(obj); has {
						return parsedLinkedData(key, raw)
					}
				}
			}
		}
	}
	return time.Time{}, "", false
}

// linkedDataDate は最初に値を持つ日付キーを返す。
func linkedDataDate(obj map[string]any) (string, string, bool) {
	for _, key := range jsonLDKeys {
		if s, isStr := obj[key].(string); isStr && s != "" {
			return key, s, true
		}
	}
	return "", "", false
}

// parsedLinkedData は日付キーの値を解釈する。解釈できない場合はそのブロックを諦める。
func parsedLinkedData(key, raw string) (time.Time, string, bool) {
	t, ok := parseDate(raw)
	if !ok {
		return time.Time{}, "", false
	}
	return t, "json-ld:" + key, true
}

// TimeTagStrategy はtime要素のdatetime属性から公開日を取り出す。
type TimeTagStrategy struct{}

func (TimeTagStrategy) Extract(doc *goquery.Document, _ time.Time) (time.Time, string, bool) {
	var found time.Time
	ok := false
	doc.Find("time[datetime]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found, ok = parseDate(s.AttrOr("datetime", ""))
		return !ok
	})
	if ok {
		return found, "time-tag", true
	}

	doc.Find("time[pubdate]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found, ok = parseDate(strings.TrimSpace(s.Text()))
		return !ok
	})
	if ok {
		return found, "time-tag", true
	}
	return time.Time{}, "", false
}

// dateClasses は日付を含みやすい要素のクラス名。部分一致で探す。
var dateClasses = []string{
	"date", "published", "post-date", "article-date", "timestamp",
	"byline-date", "publish-date", "entry-date", "meta-date",
	"article__date", "article-meta", "post-meta",
}

var (
	datePhrase = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`|\b\d{1,2}(?:st|nd|rd|th)?\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+\d{4}` +
		`|\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:?\d{2})?)?`)
	ordinalSuffix = regexp.MustCompile(`(\d)(?:st|nd|rd|th)\b`)
)

// ClassHeuristicStrategy は日付らしいクラス名を持つ要素のテキストを解釈する。
// 誤検出を避けるため、基準日の前年より古い日付は採用しない。
type ClassHeuristicStrategy struct{}

func (ClassHeuristicStrategy) Extract(doc *goquery.Document, ref time.Time) (time.Time, string, bool) {
	classed := doc.Find("[class]")
	for _, name := range dateClasses {
		var found time.Time
		ok := false
		classed.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(strings.ToLower(s.AttrOr("class", "")), name)
		}).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t, parsed := parseLoose(strings.TrimSpace(s.Text()))
			if parsed && t.Year() >= ref.Year()-1 {
				found, ok = t, true
			}
			return !ok
		})
		if ok {
			return found, "class-heuristic", true
		}
	}
	return time.Time{}, "", false
}

// parseLoose は前後に余計な文字列を含むテキストから日付を読み取る。
func parseLoose(text string) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	if t, ok := parseDate(text); ok {
		return t, true
	}
	for _, m := range datePhrase.FindAllString(text, -1) {
		m = ordinalSuffix.ReplaceAllString(m, "$1")
		m = strings.ReplaceAll(m, ".", "")
		if t, ok := parseDate(m); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var relativeHint = regexp.MustCompile(`(?i)^(\d+)\s+(hour|day|minute)s?\s+ago`)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseHint は検索結果やフィードに付随する日付文字列を解釈する。
// ISO 8601、RFC 2822、「N hours ago」形式の相対表記、その他の一般的な表記、日付のみの順に試す。
// 相対表記はanchorを基準に計算する。
func ParseHint(s string, anchor time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC(), true
	}

	if m := relativeHint.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			unit := time.Hour
			switch strings.ToLower(m[2]) {
			case "minute":
				unit = time.Minute
			case "day":
				unit = 24 * time.Hour
			}
			return anchor.Add(-time.Duration(n) * unit).UTC(), true
		}
	}

	if t, ok := parseDate(s); ok {
		return t.UTC(), true
	}

	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AgeHours はanchorから見た経過時間を時間単位の整数で返す。
// 未来の日付は0時間とし、futureをtrueにする。
func AgeHours(published, anchor time.Time) (int, bool) {
	d := anchor.Sub(published)
	if d < 0 {
		return 0, true
	}
	return int(d.Hours()), false
}
