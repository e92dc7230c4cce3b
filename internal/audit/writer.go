package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileWriter は監査記録と受け渡しデータを日付付きのJSONファイルに書き出す。
type FileWriter struct {
	dir string
}

// NewFileWriter は出力先ディレクトリを指定してFileWriterを生成する。
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{dir: dir}
}

// Paths は書き出したファイルのパス。
type Paths struct {
	Audit    string `json:"audit"`
	Briefing string `json:"briefing"`
}

// Write は audit-<date>.json と briefing-<date>.json を書き出す。
// 同じ日付で再実行した場合は上書きする。
func (w *FileWriter) Write(record Record, handoff Handoff) (Paths, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output directory %s: %w", w.dir, err)
	}

	p := Paths{
		Audit:    filepath.Join(w.dir, "audit-"+record.BriefingDate+".json"),
		Briefing: filepath.Join(w.dir, "briefing-"+handoff.BriefingDate+".json"),
	}
	if err := writeJSON(p.Audit, record); err != nil {
		return Paths{}, err
	}
	if err := writeJSON(p.Briefing, handoff); err != nil {
		return Paths{}, err
	}
	return p, nil
}

// writeJSON は一時ファイルに書いてから置き換え、途中で失敗しても既存ファイルを壊さない。
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
