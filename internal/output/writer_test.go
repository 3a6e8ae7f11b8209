package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/finimport/internal/registry"
)

const amexSample = `Date,Description,Card Member,Account #,Amount
01/05/2025,DELTA AIR LINES,JANE DOE,-41007,412.30
01/09/2025,AUTOPAY PAYMENT - THANK YOU,JANE DOE,-41007,-412.30
`

func previewResult(t *testing.T) *pipeline.BatchResult {
	t.Helper()
	reg, err := registry.New()
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	res, err := pipeline.New(reg).Preview(context.Background(), []pipeline.FileInput{
		{Filename: "amex.csv", Content: []byte(amexSample)},
		{Filename: "bad.txt", Content: []byte("not a statement")},
	}, pipeline.Options{})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	return res
}

func TestWriteReport(t *testing.T) {
	report, err := NewReport(previewResult(t), false, time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteReport(report, &buf); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	for _, key := range []string{"files", "total_files", "total_transactions", "total_duplicates", "generated_at"} {
		if _, ok := result[key]; !ok {
			t.Errorf("output missing %q field", key)
		}
	}
	if _, ok := result["transactions"]; ok {
		t.Errorf("transactions should be omitted unless requested")
	}
	if got := result["total_files"]; got != float64(2) {
		t.Errorf("total_files = %v, want 2", got)
	}

	files := result["files"].([]interface{})
	bad := files[1].(map[string]interface{})
	if bad["error_code"] != "IMPORT_UNSUPPORTED_FORMAT" {
		t.Errorf("error_code = %v, want IMPORT_UNSUPPORTED_FORMAT", bad["error_code"])
	}

	if !bytes.Contains(buf.Bytes(), []byte("\n  \"files\"")) {
		t.Errorf("output should use 2-space indentation")
	}
}

func TestWriteReport_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(nil, &buf); err == nil {
		t.Error("expected error for nil report")
	}
	if _, err := NewReport(nil, false, time.Now()); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestReportWithTransactions(t *testing.T) {
	report, err := NewReport(previewResult(t), true, time.Now())
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}
	txns, ok := report.Transactions["amex.csv"]
	if !ok || len(txns) != 2 {
		t.Fatalf("expected 2 transactions for amex.csv, got %d", len(txns))
	}
	if _, ok := report.Transactions["bad.txt"]; ok {
		t.Errorf("failed files carry no transactions")
	}

	var buf bytes.Buffer
	if err := WriteReport(report, &buf); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"date": "2025-01-05"`)) {
		t.Errorf("transactions should render dates as YYYY-MM-DD:\n%s", buf.String())
	}
}

func TestWriteReportToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	if err := WriteReportToFile(previewResult(t), WriteOptions{FilePath: path, IncludeTransactions: true}); err != nil {
		t.Fatalf("WriteReportToFile failed: %v", err)
	}

	loaded, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	if loaded.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2", loaded.TotalFiles)
	}
	if len(loaded.Files) != 2 || loaded.Files[0].DetectedFormat != "amex" {
		t.Errorf("unexpected files: %+v", loaded.Files)
	}
	if got := loaded.Transactions["amex.csv"][0].DateString(); got != "2025-01-05" {
		t.Errorf("date = %s, want 2025-01-05", got)
	}
}

func TestWriteReportToFile_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "report.json")
	if err := WriteReportToFile(previewResult(t), WriteOptions{FilePath: path}); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoadReport_Errors(t *testing.T) {
	if _, err := LoadReport(""); err == nil {
		t.Error("expected error for empty path")
	}

	_, err := LoadReport(filepath.Join(t.TempDir(), "nope.json"))
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReport(bad); err == nil {
		t.Error("expected decode error")
	}
}

func TestWriteSessions(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSessions(nil, &buf); err != nil {
		t.Fatalf("WriteSessions failed: %v", err)
	}
	if got := buf.String(); got != "[]\n" {
		t.Errorf("empty sessions = %q, want []", got)
	}

	s, err := domain.NewImportSession("jan.csv", "amex", "amex")
	if err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := WriteSessions([]*domain.ImportSession{s}, &buf); err != nil {
		t.Fatalf("WriteSessions failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(s.ID)) {
		t.Errorf("session id missing from output")
	}
}
