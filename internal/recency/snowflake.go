// Package recency はソーシャル投稿の連番IDから投稿時刻を復元し、鮮度を検証する。
package recency

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EpochMillis は連番IDの時刻部分の基準となるUnixミリ秒。
const EpochMillis int64 = 1288834974657

// timestampShift はIDの下位にあるワーカー番号・連番のビット数。
const timestampShift = 22

// PostTime はIDに埋め込まれた投稿時刻をUTCで返す。
func PostTime(id uint64) time.Time {
	ms := int64(id>>timestampShift) + EpochMillis
	return time.UnixMilli(ms).UTC()
}

// StatusRef は投稿URLから取り出したハンドルとID。
type StatusRef struct {
	Handle string
	ID     uint64
	URL    string // https://x.com/<handle>/status/<id>
}

var statusPattern = regexp.MustCompile(`(?:x\.com|twitter\.com)/(\w+)/status/(\d+)`)

// ParseStatusURL は投稿URLを正規化してStatusRefを返す。
// クエリは取り除き、mobile.x.com と twitter.com は x.com として扱う。
func ParseStatusURL(raw string) (StatusRef, bool) {
	if !strings.Contains(raw, "/status/") {
		return StatusRef{}, false
	}
	clean := raw
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.Replace(clean, "mobile.x.com", "x.com", 1)

	m := statusPattern.FindStringSubmatch(clean)
	if m == nil {
		return StatusRef{}, false
	}
	id, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return StatusRef{}, false
	}
	return StatusRef{
		Handle: m[1],
		ID:     id,
		URL:    fmt.Sprintf("https://x.com/%s/status/%d", m[1], id),
	}, true
}

// DeltaCheck は当日投稿と分かっている基準IDとの比較結果。
type DeltaCheck struct {
	Delta  int64
	Passed bool
	Reason string
}

// DefaultMaxDelta は基準IDからの許容下限。これより下回るIDは基準より古い投稿として棄却する。
const DefaultMaxDelta int64 = 500000

// CompareToReference は候補IDが基準IDからmaxDeltaより下回っていないかを確認する。
// IDは時刻順に増加するため、大きく下回るIDは古い投稿とみなせる。
func CompareToReference(candidateID, referenceID uint64, maxDelta int64) DeltaCheck {
	delta := int64(candidateID) - int64(referenceID)
	if delta < -maxDelta {
		return DeltaCheck{
			Delta:  delta,
			Reason: fmt.Sprintf("Status ID is %s below reference (threshold: %s)", groupDigits(-delta), groupDigits(maxDelta)),
		}
	}
	return DeltaCheck{Delta: delta, Passed: true, Reason: "Within acceptable range of reference post"}
}

// groupDigits は3桁ごとにカンマを挿入する。
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
