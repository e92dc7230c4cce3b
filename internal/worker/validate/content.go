package validate

import (
	"bytes"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/urlnorm"
	"golang.org/x/net/html"
)

const (
	wordsPerMinute   = 250
	minReadTime      = 2
	maxReadTime      = 20
	minParagraphLen  = 40
	maxBodyTextRunes = 5000
	defaultScanBytes = 5000
)

// Analysis はページ本文から得た付随情報。
type Analysis struct {
	ReadTimeMin int
	Paywalled   bool
	BodyText    string
}

// ContentAnalyzer は読了時間、ペイウォール、本文テキストを求める。
type ContentAnalyzer struct {
	paywallDomains []string
	paywallMarkers []string
	scanBytes      int
}

// NewContentAnalyzer はペイウォール判定テーブルからContentAnalyzerを生成する。
func NewContentAnalyzer(p catalog.Paywall) *ContentAnalyzer {
	scan := p.ScanBytes
	if scan <= 0 {
		scan = defaultScanBytes
	}
	markers := make([]string, len(p.Markers))
	for i, m := range p.Markers {
		markers[i] = strings.ToLower(m)
	}
	return &ContentAnalyzer{
		paywallDomains: p.Domains,
		paywallMarkers: markers,
		scanBytes:      scan,
	}
}

// Analyze はページを解析する。docから装飾要素を取り除くため、日付抽出の後に呼ぶこと。
func (a *ContentAnalyzer) Analyze(doc *goquery.Document, finalURL string, body []byte) Analysis {
	return Analysis{
		Paywalled:   a.Paywalled(finalURL, body),
		ReadTimeMin: a.readTime(doc),
		BodyText:    a.bodyText(doc),
	}
}

// Paywalled はドメインまたは本文先頭の文言からペイウォールの有無を判定する。
func (a *ContentAnalyzer) Paywalled(finalURL string, body []byte) bool {
	host := urlnorm.Host(finalURL)
	for _, d := range a.paywallDomains {
		if host != "" && urlnorm.HostMatches(host, d) {
			return true
		}
	}

	head := body
	if len(head) > a.scanBytes {
		head = head[:a.scanBytes]
	}
	lower := bytes.ToLower(head)
	for _, m := range a.paywallMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

// readTime はscript等を除いた単語数から読了分数を見積もる。
func (a *ContentAnalyzer) readTime(doc *goquery.Document) int {
	doc.Find("script, style, nav, header, footer, aside").Remove()

	words := len(strings.Fields(visibleText(doc.Selection)))
	minutes := int(math.RoundToEven(float64(words) / wordsPerMinute))
	return min(max(minutes, minReadTime), maxReadTime)
}

// bodyText はarticle要素(なければページ全体)の段落から本文を組み立てる。
func (a *ContentAnalyzer) bodyText(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, aside, figure, figcaption, form, button").Remove()

	container := doc.Find("article").First()
	if container.Length() == 0 {
		container = doc.Selection
	}

	var paragraphs []string
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if utf8.RuneCountInString(text) > minParagraphLen {
			paragraphs = append(paragraphs, text)
		}
	})
	return truncateRunes(strings.Join(paragraphs, "\n\n"), maxBodyTextRunes)
}

// visibleText はテキストノードを空白区切りで連結する。
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
