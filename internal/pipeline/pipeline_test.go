package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
	"github.com/rumor-ml/commons.systems/finimport/internal/registry"
	"github.com/rumor-ml/commons.systems/finimport/internal/store"
)

const bofaChecking = `Description,,Summary Amt.
Beginning balance as of 01/01/2025,,"1,000.00"
Ending balance as of 01/31/2025,,"2,445.50"

Date,Description,Amount,Running Bal.
01/02/2025,"CHECKCARD 0102 STARBUCKS STORE 12345","-4.50","995.50"
01/15/2025,"ACME CORP DES:PAYROLL","1,500.00","2,495.50"
01/20/2025,"WHOLE FOODS MARKET AUSTIN TX","-50.00","2,445.50"
`

const amexA = `Date,Description,Card Member,Account #,Amount
01/05/2025,DELTA AIR LINES,JANE DOE,-41007,412.30
`

const amexB = `Date,Description,Card Member,Account #,Amount
01/05/2025,DELTA AIR LINES,JANE DOE,-41007,412.30
01/09/2025,AUTOPAY PAYMENT - THANK YOU,JANE DOE,-41007,-412.30
`

const bofaCreditHeaderOnly = "Posted Date,Reference Number,Payee,Address,Amount\n"

const creditUnion = "Posted,Memo,Value\n01/03/2025,GROCERY OUTLET,-45.10\n01/04/2025,DIRECT DEPOSIT,2000.00\n"

type fixture struct {
	state    *dedup.State
	configs  *store.MemoryConfigs
	pipeline *Pipeline
	events   []ProgressEvent
}

func newFixture(t *testing.T, seed ...*custom.Config) *fixture {
	t.Helper()
	f := &fixture{state: dedup.NewState()}

	var err error
	f.configs, err = store.NewMemoryConfigs(seed...)
	require.NoError(t, err)

	reg, err := registry.New(registry.WithConfigSource(f.configs))
	require.NoError(t, err)

	f.pipeline = New(reg,
		WithHashSource(f.state),
		WithSink(f.state),
		WithConfigStore(f.configs),
		WithProgress(func(ev ProgressEvent) { f.events = append(f.events, ev) }),
	)
	return f
}

func creditUnionConfig() *custom.Config {
	return &custom.Config{
		Name: "credit-union",
		Config: custom.Settings{
			ColumnMapping: parser.ColumnMapping{
				Date:        parser.Named("Posted"),
				Description: parser.Named("Memo"),
				Amount:      parser.Named("Value"),
			},
			DateConfig: normalize.DateConfig{Formats: []string{"MM/DD/YYYY"}},
			RowSkip:    custom.RowSkip{HasHeader: true},
		},
		HeaderSignature: custom.HeaderSignature([]string{"Posted", "Memo", "Value"}),
	}
}

func files(pairs ...string) []FileInput {
	var out []FileInput
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, FileInput{Filename: pairs[i], Content: []byte(pairs[i+1])})
	}
	return out
}

func TestPreview_DetectsFormatsWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Preview(ctx, files("checking.csv", bofaChecking, "amex.csv", amexA), Options{})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.False(t, res.Committed)
	assert.Nil(t, res.Batch)

	checking := res.Files[0]
	require.NoError(t, checking.Err)
	assert.Equal(t, "bofa-checking", checking.Format)
	assert.Equal(t, 3, checking.Stats.TransactionCount)
	assert.Equal(t, "1445.50", checking.Stats.TotalAmount.StringFixed(2))
	assert.Len(t, checking.Forwarded, 3)
	assert.Nil(t, checking.Session)

	amex := res.Files[1]
	require.NoError(t, amex.Err)
	assert.Equal(t, "amex", amex.Format)
	assert.Equal(t, "-412.30", amex.Forwarded[0].Amount.StringFixed(2))

	known, err := f.state.KnownHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, known.Len(), "preview persists nothing")
	assert.Len(t, f.events, 2)
}

func TestCommit_CrossFileDuplicate(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Commit(context.Background(), files("a.csv", amexA, "b.csv", amexB), Options{})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	a, b := res.Files[0], res.Files[1]
	assert.Equal(t, 0, a.Stats.CrossFileDuplicateCount)
	assert.Equal(t, 1, b.Stats.CrossFileDuplicateCount)
	assert.Equal(t, 1, b.Stats.NewCount)
	require.Len(t, b.Forwarded, 1)
	assert.Equal(t, "AUTOPAY PAYMENT - THANK YOU", b.Forwarded[0].Description)

	require.NotNil(t, res.Batch)
	assert.Equal(t, domain.BatchCompleted, res.Batch.Status)
	assert.Equal(t, 2, res.Batch.ImportedFiles)
	assert.Equal(t, 2, res.Batch.TotalTransactions)
	assert.Equal(t, 1, res.Batch.TotalDuplicates)
	assert.Equal(t, []string{a.Session.ID, b.Session.ID}, res.Batch.SessionIDs)
	assert.Equal(t, res.Batch.ID, b.Session.BatchID)
	assert.Equal(t, 1, b.Session.CrossFileDuplicateCount)

	require.Contains(t, f.state.Batches, res.Batch.ID)
	assert.Len(t, f.state.Sessions, 2)
}

func TestCommit_PartialFailureContinues(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Commit(context.Background(), files(
		"garbage.txt", "hello world\n",
		"empty.csv", bofaCreditHeaderOnly,
		"amex.csv", amexA,
	), Options{})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)

	assert.ErrorIs(t, res.Files[0].Err, domain.ErrUnsupportedFormat)
	assert.Equal(t, "IMPORT_UNSUPPORTED_FORMAT", domain.ErrorCode(res.Files[0].Err))
	assert.Equal(t, registry.FormatUnknown, res.Files[0].Format)

	assert.ErrorIs(t, res.Files[1].Err, domain.ErrNoTransactionsParsed)
	assert.Equal(t, "IMPORT_NO_TRANSACTIONS", domain.ErrorCode(res.Files[1].Err))
	assert.Equal(t, "bofa-credit", res.Files[1].Format)

	require.NoError(t, res.Files[2].Err)
	require.NotNil(t, res.Files[2].Session)

	assert.Equal(t, 1, res.ImportedFiles())
	assert.Len(t, res.Errors(), 2)
	assert.Equal(t, domain.BatchCompleted, res.Batch.Status)
	assert.Equal(t, 1, res.Batch.ImportedFiles)

	require.Len(t, f.events, 3)
	assert.Equal(t, StatusFailed, f.events[0].Status)
	assert.NotEmpty(t, f.events[0].Error)
	assert.Equal(t, StatusCompleted, f.events[2].Status)
	assert.InDelta(t, 100.0, f.events[2].Percentage, 1e-9)
}

func TestCommit_AllFailedMarksBatchFailed(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.Commit(context.Background(), files("a.txt", "nope\n", "b.txt", "still nope\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailed, res.Batch.Status)
}

func TestCommit_StoredDuplicatesAndOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Commit(ctx, files("jan.csv", bofaChecking), Options{})
	require.NoError(t, err)
	assert.Nil(t, first.Batch, "single-file commits have no batch session")
	require.NotNil(t, first.Files[0].Session)
	assert.Equal(t, 3, first.Files[0].Session.TransactionCount)
	assert.Equal(t, "1445.5", first.Files[0].Session.TotalAmount.String())
	assert.Equal(t, "2025-01-02", first.Files[0].Session.DateStart)
	assert.Equal(t, "2025-01-20", first.Files[0].Session.DateEnd)

	again, err := f.pipeline.Commit(ctx, files("jan.csv", bofaChecking), Options{})
	require.NoError(t, err)
	fr := again.Files[0]
	assert.Equal(t, 3, fr.Stats.StoredDuplicateCount)
	assert.Equal(t, 3, fr.Stats.DuplicateCount)
	assert.Empty(t, fr.Forwarded)
	assert.Equal(t, 0, fr.Session.TransactionCount)
	assert.Equal(t, 3, fr.Session.DuplicateCount)

	forced, err := f.pipeline.Commit(ctx, files("jan.csv", bofaChecking), Options{Override: true})
	require.NoError(t, err)
	assert.Len(t, forced.Files[0].Forwarded, 3, "override forwards duplicates")
	assert.Equal(t, 3, forced.Files[0].Stats.DuplicateCount, "classification is unchanged")
}

func TestCommit_InFileDuplicates(t *testing.T) {
	f := newFixture(t)
	dup := amexA + "01/05/2025,DELTA AIR LINES,JANE DOE,-41007,412.30\n"

	res, err := f.pipeline.Commit(context.Background(), files("dup.csv", dup), Options{})
	require.NoError(t, err)
	fr := res.Files[0]
	assert.Equal(t, 2, fr.Stats.TransactionCount)
	assert.Equal(t, 1, fr.Stats.InFileDuplicateCount)
	assert.Len(t, fr.Forwarded, 1)
}

func TestRollback_AllowsReimport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Commit(ctx, files("amex.csv", amexA), Options{})
	require.NoError(t, err)
	sessionID := res.Files[0].Session.ID

	rolled, err := f.pipeline.Rollback(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRolledBack, rolled.Status)

	again, err := f.pipeline.Commit(ctx, files("amex.csv", amexA), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Files[0].Stats.NewCount)
}

func TestCustomFormat_MatchedBySignature(t *testing.T) {
	f := newFixture(t, creditUnionConfig())
	ctx := context.Background()

	res, err := f.pipeline.Commit(ctx, files("cu.csv", creditUnion), Options{})
	require.NoError(t, err)
	fr := res.Files[0]
	require.NoError(t, fr.Err)
	assert.Equal(t, "custom:credit-union", fr.Format)
	assert.Equal(t, 2, fr.Stats.TransactionCount)
	assert.Equal(t, "credit-union", fr.AccountSource)

	cfg, err := f.configs.GetConfig(ctx, "credit-union")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.UseCount)

	_, err = f.pipeline.Preview(ctx, files("cu.csv", creditUnion), Options{})
	require.NoError(t, err)
	cfg, err = f.configs.GetConfig(ctx, "credit-union")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.UseCount, "previews do not count as use")
}

func TestCustomFormat_SemicolonMatchedBySignature(t *testing.T) {
	cfg := &custom.Config{
		Name: "euro-bank",
		Config: custom.Settings{
			ColumnMapping: parser.ColumnMapping{
				Date:        parser.Named("Buchungstag"),
				Description: parser.Named("Verwendungszweck"),
				Amount:      parser.Named("Betrag"),
			},
			AmountConfig: normalize.AmountConfig{DecimalSeparator: ",", ThousandsSeparator: "."},
			DateConfig:   normalize.DateConfig{Formats: []string{"DD.MM.YYYY"}},
			RowSkip:      custom.RowSkip{HasHeader: true},
			Delimiter:    ";",
		},
	}
	content := "Buchungstag;Verwendungszweck;Betrag\n03.01.2025;REWE MARKT;-45,10\n04.01.2025;GEHALT;\"2.000,00\"\n"
	require.NoError(t, cfg.SignFrom(context.Background(), []byte(content)))

	f := newFixture(t, cfg)
	res, err := f.pipeline.Preview(context.Background(), files("umsatz.csv", content), Options{})
	require.NoError(t, err)
	fr := res.Files[0]
	require.NoError(t, fr.Err)
	assert.Equal(t, "custom:euro-bank", fr.Format)
	require.Len(t, fr.Forwarded, 2)
	assert.Equal(t, "-45.10", fr.Forwarded[0].Amount.StringFixed(2))
	assert.Equal(t, "2000.00", fr.Forwarded[1].Amount.StringFixed(2))
}

func TestDetect(t *testing.T) {
	f := newFixture(t, creditUnionConfig())
	ctx := context.Background()

	format, confidence, err := f.pipeline.Detect(ctx, FileInput{Filename: "a.csv", Content: []byte(amexA)})
	require.NoError(t, err)
	assert.Equal(t, "amex", format)
	assert.Greater(t, confidence, 0.5)

	format, _, err = f.pipeline.Detect(ctx, FileInput{Filename: "cu.csv", Content: []byte(creditUnion)})
	require.NoError(t, err)
	assert.Equal(t, "custom:credit-union", format)

	format, _, err = f.pipeline.Detect(ctx, FileInput{Filename: "x.txt", Content: []byte("hello")})
	assert.Equal(t, registry.FormatUnknown, format)
	assert.Equal(t, "IMPORT_UNSUPPORTED_FORMAT", domain.ErrorCode(err))

	assert.Empty(t, f.state.Sessions, "detection persists nothing")
	cfg, err := f.configs.GetConfig(ctx, "credit-union")
	require.NoError(t, err)
	assert.Zero(t, cfg.UseCount)
}

func TestExplicitFormat(t *testing.T) {
	f := newFixture(t, creditUnionConfig())
	ctx := context.Background()

	res, err := f.pipeline.Preview(ctx, []FileInput{
		{Filename: "a.csv", Content: []byte(amexA), Format: "amex", AccountHint: "gold-card"},
		{Filename: "b.csv", Content: []byte(amexA), Format: "chase"},
		{Filename: "c.csv", Content: []byte(amexA), Format: "custom:missing"},
		{Filename: "d.csv", Content: []byte(creditUnion), Format: "custom:credit-union"},
		{Filename: "e.csv", Content: []byte(amexA), Format: "bofa-checking"},
	}, Options{})
	require.NoError(t, err)

	assert.NoError(t, res.Files[0].Err)
	assert.Equal(t, "gold-card", res.Files[0].AccountSource)
	assert.Equal(t, "gold-card", res.Files[0].Forwarded[0].AccountSource)

	assert.Equal(t, "IMPORT_UNSUPPORTED_FORMAT", domain.ErrorCode(res.Files[1].Err))
	assert.Equal(t, "IMPORT_CONFIG_NOT_FOUND", domain.ErrorCode(res.Files[2].Err))
	assert.NoError(t, res.Files[3].Err)
	assert.Equal(t, "custom:credit-union", res.Files[3].Format)
	assert.Equal(t, "IMPORT_PARSE_ERROR", domain.ErrorCode(res.Files[4].Err), "header never found")
}

func TestNoFiles(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Preview(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, domain.ErrNoFilesProvided)
	assert.Equal(t, "IMPORT_NO_FILES", domain.ErrorCode(err))
}

func TestCommitRequiresSink(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	p := New(reg)

	_, err = p.Commit(context.Background(), files("a.csv", amexA), Options{})
	assert.ErrorIs(t, err, domain.ErrPersist)
	_, err = p.Rollback(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrPersist)

	res, err := p.Preview(context.Background(), files("a.csv", amexA), Options{})
	require.NoError(t, err, "preview works without storage")
	assert.Equal(t, 1, res.Files[0].Stats.NewCount)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.pipeline.Preview(ctx, files("a.csv", amexA), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Files)
}

type failingSink struct {
	*dedup.State
}

func (failingSink) SaveImport(context.Context, *domain.ImportSession, []*domain.ParsedTransaction) error {
	return errors.New("disk full")
}

func TestCommit_PersistFailureIsFileLevel(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	p := New(reg, WithSink(failingSink{dedup.NewState()}))

	res, err := p.Commit(context.Background(), files("a.csv", amexA, "b.csv", bofaChecking), Options{})
	require.NoError(t, err)
	for _, fr := range res.Files {
		assert.ErrorIs(t, fr.Err, domain.ErrPersist)
		assert.Nil(t, fr.Session)
	}
	assert.Equal(t, domain.BatchFailed, res.Batch.Status)
}

func TestResponse(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.Commit(context.Background(), files("a.csv", amexA, "b.csv", amexB, "bad.txt", "?"), Options{})
	require.NoError(t, err)

	resp := res.Response()
	assert.Equal(t, 3, resp.TotalFiles)
	assert.Equal(t, 2, resp.ImportedFiles)
	assert.Equal(t, 3, resp.TotalTransactions)
	assert.Equal(t, 1, resp.TotalDuplicates)
	assert.Equal(t, res.Batch.ID, resp.BatchID)
	assert.True(t, resp.Committed)

	b := resp.Files[1]
	assert.Equal(t, "b.csv", b.Filename)
	assert.Equal(t, "amex", b.DetectedFormat)
	assert.Equal(t, 2, b.TransactionCount)
	assert.Equal(t, 0, b.DuplicateCount)
	assert.Equal(t, 1, b.CrossFileDuplicateCount)
	assert.Equal(t, "412.30", b.TotalAmount)
	assert.NotEmpty(t, b.SessionID)

	bad := resp.Files[2]
	assert.Equal(t, "IMPORT_UNSUPPORTED_FORMAT", bad.ErrorCode)
	assert.Equal(t, "0.00", bad.TotalAmount)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, key := range []string{`"detected_format"`, `"transaction_count"`, `"duplicate_count"`,
		`"cross_file_duplicate_count"`, `"total_amount"`, `"total_files"`, `"total_transactions"`, `"total_duplicates"`} {
		assert.Contains(t, string(data), key)
	}
}
