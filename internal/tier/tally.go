package tier

import "fmt"

// TallyItem は集計対象の1件。
type TallyItem struct {
	Source   string
	URL      string
	Headline string
}

// SourceCount は媒体ごとの集計値。
type SourceCount struct {
	Count int  `json:"count"`
	Info  Info `json:"tier"`
}

// Violation は掲載不可の媒体が含まれていたことを表す。
type Violation struct {
	Source   string `json:"source"`
	Headline string `json:"headline"`
	Info     Info   `json:"tier"`
}

// TallyReport は一般ニュース枠の媒体集計結果。
type TallyReport struct {
	Passed         bool                   `json:"passed"`
	Sources        map[string]SourceCount `json:"source_counts"`
	Violations     []Violation            `json:"tier_violations"`
	MaxSourceCount int                    `json:"max_source_count"`
	MaxSourceName  string                 `json:"max_source_name"`
	Issues         []string               `json:"issues"`
}

// Tally は媒体ごとの件数と階層違反を集計する。
// いずれかの媒体がcapを超えた場合、または掲載不可の媒体がある場合はPassedがfalseになる。
func (c *Classifier) Tally(items []TallyItem, cap int) TallyReport {
	r := TallyReport{Sources: make(map[string]SourceCount), Issues: []string{}}

	var order []string
	for _, it := range items {
		src := it.Source
		if src == "" {
			src = "Unknown"
		}
		info := c.Classify(src, it.URL)

		sc, seen := r.Sources[src]
		if !seen {
			order = append(order, src)
			sc.Info = info
		}
		sc.Count++
		r.Sources[src] = sc

		if !info.Eligible {
			r.Violations = append(r.Violations, Violation{Source: src, Headline: it.Headline, Info: info})
		}
	}

	// 同数の場合は先に出現した媒体を最大とする。
	for _, src := range order {
		if n := r.Sources[src].Count; n > r.MaxSourceCount {
			r.MaxSourceCount = n
			r.MaxSourceName = src
		}
	}
	if r.MaxSourceCount > cap {
		r.Issues = append(r.Issues, fmt.Sprintf("Source '%s' appears %d times (max %d)", r.MaxSourceName, r.MaxSourceCount, cap))
	}
	for _, v := range r.Violations {
		r.Issues = append(r.Issues, v.Info.Note)
	}
	r.Passed = len(r.Issues) == 0
	return r
}
