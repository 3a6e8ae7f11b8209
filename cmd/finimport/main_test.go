package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/pipeline"
)

const amexJan = `Date,Description,Card Member,Account #,Amount
01/05/2025,DELTA AIR LINES,JANE DOE,-41007,412.30
01/09/2025,AUTOPAY PAYMENT - THANK YOU,JANE DOE,-41007,-412.30
`

const creditUnionJan = `Posted,Memo,Value
01/03/2025,GROCERY OUTLET,-45.10
01/04/2025,DIRECT DEPOSIT,2000.00
`

const creditUnionFormats = `formats:
  - name: credit-union
    description: Credit union checking
    config:
      columnMapping:
        date: Posted
        description: Memo
        amount: Value
      dateConfig:
        formats: ["MM/DD/YYYY"]
      rowSkip:
        hasHeader: true
`

// testEnv is a scratch workspace using the file-backed store.
type testEnv struct {
	t     *testing.T
	dir   string
	flags []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "finimport.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("logging:\n  level: warn\n"), 0644))

	return &testEnv{
		t:   t,
		dir: dir,
		flags: []string{
			"--config", cfgFile,
			"--backend", "state",
			"--state-file", filepath.Join(dir, "data", "state.json"),
			"--formats-file", filepath.Join(dir, "data", "formats.yaml"),
		},
	}
}

func (e *testEnv) write(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the CLI and returns stdout, stderr and the error.
func (e *testEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append(append([]string{}, args...), e.flags...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *testEnv) importJSON(args ...string) pipeline.Response {
	e.t.Helper()
	stdout, stderr, err := e.run(append([]string{"import", "--no-progress"}, args...)...)
	require.NoError(e.t, err, stderr)
	var resp pipeline.Response
	require.NoError(e.t, json.Unmarshal([]byte(stdout), &resp), stdout)
	return resp
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newRootCmd(&stdout, &bytes.Buffer{})
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "finimport version "+version+"\n", stdout.String())
}

func TestImport_PreviewThenCommit(t *testing.T) {
	e := newTestEnv(t)
	dir := filepath.Dir(e.write("statements/amex-gold/2025-01/jan.csv", amexJan))
	root := filepath.Dir(filepath.Dir(dir))

	preview := e.importJSON(root)
	assert.False(t, preview.Committed)
	require.Len(t, preview.Files, 1)
	assert.Equal(t, "amex-gold/2025-01/jan.csv", preview.Files[0].Filename)
	assert.Equal(t, "amex", preview.Files[0].DetectedFormat)
	assert.Equal(t, "amex-gold", preview.Files[0].AccountSource, "directory name is the account hint")
	assert.Equal(t, 2, preview.Files[0].NewCount)
	assert.Empty(t, preview.Files[0].SessionID)

	committed := e.importJSON("--commit", root)
	assert.True(t, committed.Committed)
	assert.Equal(t, 2, committed.Files[0].NewCount, "a preview stores nothing")
	assert.NotEmpty(t, committed.Files[0].SessionID)

	again := e.importJSON("--commit", root)
	assert.Equal(t, 0, again.Files[0].NewCount)
	assert.Equal(t, 2, again.Files[0].DuplicateCount)
	assert.Equal(t, 2, again.TotalDuplicates)
}

func TestImport_AccountFlagAndReport(t *testing.T) {
	e := newTestEnv(t)
	file := e.write("jan.csv", amexJan)
	report := filepath.Join(e.dir, "report.json")

	stdout, stderr, err := e.run("import", "--no-progress", "--account", "travel-card", "--transactions", "-o", report, file)
	require.NoError(t, err, stderr)
	assert.Empty(t, stdout, "the report goes to the file")
	assert.Contains(t, stderr, "Report written to")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var doc struct {
		Files        []pipeline.FileResponse                  `json:"files"`
		Transactions map[string][]*domain.ParsedTransaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Transactions["jan.csv"], 2)
	assert.Equal(t, "travel-card", doc.Transactions["jan.csv"][0].AccountSource)
}

func TestImport_UnsupportedOnly(t *testing.T) {
	e := newTestEnv(t)
	file := e.write("notes.csv", "just,some\nrandom,text\n")

	stdout, _, err := e.run("import", "--no-progress", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no file in the batch")
	assert.Contains(t, stdout, "IMPORT_UNSUPPORTED_FORMAT", "the report is still written")
}

func TestImport_ProgressBar(t *testing.T) {
	e := newTestEnv(t)
	file := e.write("jan.csv", amexJan)

	_, stderr, err := e.run("import", file)
	require.NoError(t, err)
	assert.Contains(t, stderr, "1/1")
}

func TestSessions_ListAndRollback(t *testing.T) {
	e := newTestEnv(t)
	file := e.write("jan.csv", amexJan)

	committed := e.importJSON("--commit", file)
	sessionID := committed.Files[0].SessionID
	require.NotEmpty(t, sessionID)

	stdout, _, err := e.run("sessions", "list", "--json")
	require.NoError(t, err)
	var sessions []*domain.ImportSession
	require.NoError(t, json.Unmarshal([]byte(stdout), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].TransactionCount)

	stdout, _, err = e.run("sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, sessionID)
	assert.Contains(t, stdout, "jan.csv")

	_, stderr, err := e.run("sessions", "rollback", sessionID)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Rolled back")

	reimport := e.importJSON("--commit", file)
	assert.Equal(t, 2, reimport.Files[0].NewCount, "rolled back rows are new again")

	_, _, err = e.run("sessions", "rollback", "no-such-session")
	assert.Error(t, err)
}

func TestFormats_SaveAndMatch(t *testing.T) {
	e := newTestEnv(t)
	formats := e.write("credit-union.yaml", creditUnionFormats)
	sample := e.write("cu.csv", creditUnionJan)

	_, stderr, err := e.run("formats", "save", "--sample", sample, formats)
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "Saved custom:credit-union")

	stdout, _, err := e.run("detect", sample)
	require.NoError(t, err)
	assert.Contains(t, stdout, "custom:credit-union")

	resp := e.importJSON("--commit", sample)
	assert.Equal(t, "custom:credit-union", resp.Files[0].DetectedFormat)
	assert.Equal(t, 2, resp.Files[0].NewCount)

	stdout, _, err = e.run("formats", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "amex")
	var line string
	for _, l := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(l, "custom:credit-union") {
			line = l
		}
	}
	require.NotEmpty(t, line, stdout)
	assert.Equal(t, "1", strings.Fields(line)[1], "commit records a use")
}

func TestFormats_Validate(t *testing.T) {
	e := newTestEnv(t)

	good := e.write("good.yaml", creditUnionFormats)
	_, _, err := e.run("formats", "validate", good)
	assert.NoError(t, err)

	bad := e.write("bad.yaml", `formats:
  - name: broken
    config:
      columnMapping:
        date: 0
      rowSkip:
        leading: -1
`)
	_, _, err = e.run("formats", "validate", bad)
	assert.Error(t, err)

	_, _, err = e.run("formats", "save", bad)
	assert.Error(t, err, "invalid formats are never saved")
}

func TestDetect_Unknown(t *testing.T) {
	e := newTestEnv(t)
	amex := e.write("in/a.csv", amexJan)
	e.write("in/b.qif", "hello\n")

	stdout, _, err := e.run("detect", filepath.Dir(amex))
	require.NoError(t, err)
	assert.Contains(t, stdout, "amex")
	assert.Contains(t, stdout, "IMPORT_UNSUPPORTED_FORMAT")
}

func TestInvalidBackend(t *testing.T) {
	e := newTestEnv(t)
	file := e.write("jan.csv", amexJan)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs([]string{"import", file, "--config", e.flags[1], "--backend", "postgres"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestCollectInputs(t *testing.T) {
	e := newTestEnv(t)
	a := e.write("bank/checking/jan.csv", amexJan)
	b := e.write("card/feb.csv", amexJan)
	single := e.write("loose.qif", "!Type:Bank\n")

	inputs, err := collectInputs([]string{filepath.Join(e.dir, "bank"), filepath.Join(e.dir, "card"), single}, "", "", "fallback")
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	assert.Equal(t, "bank/checking/jan.csv", inputs[0].Filename)
	assert.Equal(t, "checking", inputs[0].AccountHint)
	assert.Equal(t, "card/feb.csv", inputs[1].Filename)
	assert.Equal(t, "fallback", inputs[1].AccountHint)
	assert.Equal(t, "loose.qif", inputs[2].Filename)

	inputs, err = collectInputs([]string{a, b}, "amex", "override", "fallback")
	require.NoError(t, err)
	for _, in := range inputs {
		assert.Equal(t, "amex", in.Format)
		assert.Equal(t, "override", in.AccountHint)
	}

	e.write("empty/readme.txt", "x")
	_, err = collectInputs([]string{filepath.Join(e.dir, "empty")}, "", "", "")
	assert.Error(t, err)
}

func TestSQLiteBackend_SeedsFormats(t *testing.T) {
	e := newTestEnv(t)
	formats := e.write("formats.yaml", creditUnionFormats)
	sample := e.write("cu.csv", creditUnionJan)
	e.flags = []string{
		"--config", e.flags[1],
		"--backend", "sqlite",
		"--db", filepath.Join(e.dir, "db", "finimport.db"),
		"--formats-file", formats,
	}

	resp := e.importJSON("--commit", "--format", "custom:credit-union", sample)
	require.Empty(t, resp.Files[0].Error)
	assert.Equal(t, 2, resp.Files[0].NewCount)

	// Reseeding on the next run keeps the stored use count.
	stdout, _, err := e.run("formats", "list")
	require.NoError(t, err)
	assert.Regexp(t, `custom:credit-union\s+1\s+Credit union checking`, stdout)

	stdout, _, err = e.run("sessions", "list", "--json")
	require.NoError(t, err)
	var sessions []*domain.ImportSession
	require.NoError(t, json.Unmarshal([]byte(stdout), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "custom:credit-union", sessions[0].Format)
}
