// Package pipeline coordinates batch imports: parser selection, duplicate
// classification across the batch, and session bookkeeping on commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
	"github.com/rumor-ml/commons.systems/finimport/internal/registry"
	"github.com/rumor-ml/commons.systems/finimport/internal/store"
)

// SignatureScanLines is how many leading non-blank lines are tried as a
// header when matching saved custom formats.
const SignatureScanLines = 25

// FileInput is one file submitted to a batch.
type FileInput struct {
	Filename string
	Content  []byte
	// Format is an explicit format key. Empty or "auto" detects.
	Format      string
	AccountHint string
}

// Options control one preview or commit call.
type Options struct {
	// Override forwards duplicates as well, e.g. when re-confirming a
	// previewed import.
	Override bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHashSource supplies stored hashes for duplicate detection.
func WithHashSource(h store.HashSource) Option {
	return func(p *Pipeline) { p.hashes = h }
}

// WithSink sets where Commit persists imports. Required for Commit and
// Rollback.
func WithSink(s store.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithConfigStore enables matching saved custom formats by header
// signature.
func WithConfigStore(c store.ConfigStore) Option {
	return func(p *Pipeline) { p.configs = c }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithProgress registers a callback invoked after each file.
func WithProgress(cb ProgressCallback) Option {
	return func(p *Pipeline) { p.progress = cb }
}

// Pipeline orchestrates batch imports. It holds no per-batch state; every
// Preview or Commit call gets its own duplicate detector.
type Pipeline struct {
	registry *registry.Registry
	hashes   store.HashSource
	sink     store.Sink
	configs  store.ConfigStore
	logger   *slog.Logger
	progress ProgressCallback
	now      func() time.Time
}

// New creates a pipeline over reg.
func New(reg *registry.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: reg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preview parses and classifies files without persisting anything.
func (p *Pipeline) Preview(ctx context.Context, files []FileInput, opts Options) (*BatchResult, error) {
	return p.run(ctx, files, opts, false)
}

// Commit parses, classifies and persists files. Each imported file gets an
// ImportSession; a multi-file commit also gets a BatchImportSession.
func (p *Pipeline) Commit(ctx context.Context, files []FileInput, opts Options) (*BatchResult, error) {
	if p.sink == nil {
		return nil, fmt.Errorf("%w: no sink configured", domain.ErrPersist)
	}
	return p.run(ctx, files, opts, true)
}

// Rollback rolls back one committed import session.
func (p *Pipeline) Rollback(ctx context.Context, sessionID string) (*domain.ImportSession, error) {
	if p.sink == nil {
		return nil, fmt.Errorf("%w: no sink configured", domain.ErrPersist)
	}
	return p.sink.RollbackImport(ctx, sessionID)
}

// Detect reports the format a file would be parsed as, including saved
// custom formats matched by header signature. Nothing is parsed.
func (p *Pipeline) Detect(ctx context.Context, in FileInput) (format string, confidence float64, err error) {
	r, err := p.resolve(ctx, in)
	if err != nil {
		return registry.FormatUnknown, 0, importError(in.Filename, err, domain.ErrUnsupportedFormat)
	}
	return r.format, r.confidence, nil
}

func (p *Pipeline) run(ctx context.Context, files []FileInput, opts Options, commit bool) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, domain.NewImportError(domain.ErrNoFilesProvided, "", nil)
	}

	var known *dedup.KnownSet
	if p.hashes != nil {
		var err error
		if known, err = p.hashes.KnownHashes(ctx); err != nil {
			return nil, fmt.Errorf("%w: failed to load stored hashes: %v", domain.ErrPersist, err)
		}
	}
	detector := dedup.NewDetector(known)

	result := &BatchResult{Committed: commit, Files: make([]*FileResult, 0, len(files))}
	if commit && len(files) > 1 {
		result.Batch = domain.NewBatchImportSession(len(files))
		if err := p.sink.SaveBatch(ctx, result.Batch); err != nil {
			return nil, err
		}
	}

	p.logger.Info("Processing batch", "files", len(files), "commit", commit, "override", opts.Override)

	for i, in := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fr := p.processFile(ctx, detector, in, opts)
		if commit && fr.Err == nil {
			p.persist(ctx, fr, result.Batch)
		}
		result.Files = append(result.Files, fr)

		status := StatusCompleted
		if fr.Err != nil {
			status = StatusFailed
			p.logger.Warn("File failed", "file", in.Filename, "code", domain.ErrorCode(fr.Err), "error", fr.Err)
		}
		if p.progress != nil {
			p.progress(progressEvent(in.Filename, i+1, len(files), status, fr.Err))
		}
	}

	if result.Batch != nil {
		result.Batch.Finalize(p.now())
		if err := p.sink.SaveBatch(ctx, result.Batch); err != nil {
			return result, err
		}
	}
	return result, nil
}

// resolved is the parser chosen for a file.
type resolved struct {
	parser     parser.Parser
	format     string
	confidence float64
	// config is set when a saved custom format was used.
	config *custom.Config
}

func (p *Pipeline) resolve(ctx context.Context, in FileInput) (*resolved, error) {
	if in.Format != "" && in.Format != registry.FormatAuto {
		prs, err := p.registry.Get(ctx, in.Format)
		if err != nil {
			return nil, err
		}
		r := &resolved{parser: prs, format: prs.Name(), confidence: 1}
		if cp, ok := prs.(*custom.Parser); ok {
			r.config = cp.Config()
		}
		return r, nil
	}

	d := p.registry.Detect(in.Content)
	if d.Known() {
		return &resolved{parser: d.Parser, format: d.Format, confidence: d.Confidence}, nil
	}

	if cfg := p.matchSignature(ctx, in.Content); cfg != nil {
		prs, err := p.registry.Custom(cfg)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("Matched saved format by header signature", "file", in.Filename, "format", cfg.Name)
		return &resolved{parser: prs, format: prs.Name(), confidence: 1, config: cfg}, nil
	}

	return nil, fmt.Errorf("%w: no parser reached the minimum confidence (best %.2f)", domain.ErrUnsupportedFormat, d.Confidence)
}

func (p *Pipeline) matchSignature(ctx context.Context, content []byte) *custom.Config {
	if p.configs == nil {
		return nil
	}
	for _, sig := range custom.CandidateSignatures(content, SignatureScanLines) {
		cfg, err := p.configs.FindBySignature(ctx, sig)
		if err == nil {
			return cfg
		}
		if !errors.Is(err, domain.ErrConfigNotFound) {
			p.logger.Warn("Signature lookup failed", "error", err)
			return nil
		}
	}
	return nil
}

func (p *Pipeline) processFile(ctx context.Context, detector *dedup.Detector, in FileInput, opts Options) *FileResult {
	fr := &FileResult{Filename: in.Filename, Format: registry.FormatUnknown}

	r, err := p.resolve(ctx, in)
	if err != nil {
		fr.Err = importError(in.Filename, err, domain.ErrUnsupportedFormat)
		return fr
	}
	fr.Format, fr.Confidence = r.format, r.confidence

	parsed, err := r.parser.Parse(ctx, in.Content, in.AccountHint)
	if err != nil {
		fr.Err = importError(in.Filename, err, domain.ErrParse)
		return fr
	}
	fr.Skipped = parsed.Skipped
	fr.SkipCounts = parsed.SkipCounts()

	if len(parsed.Transactions) == 0 {
		fr.Err = domain.NewImportError(domain.ErrNoTransactionsParsed, in.Filename,
			fmt.Errorf("%d rows skipped", len(parsed.Skipped)))
		return fr
	}

	classified := detector.ClassifyFile(parsed.Transactions)
	fr.Items = classified.Items
	fr.Stats = classified.Stats
	if opts.Override {
		fr.Forwarded = classified.All()
	} else {
		fr.Forwarded = classified.New()
	}

	fr.AccountSource = in.AccountHint
	if fr.AccountSource == "" {
		fr.AccountSource = parsed.Transactions[0].AccountSource
	}
	if r.config != nil {
		fr.customConfig = r.config.Name
	}

	p.logger.Debug("Classified file",
		"file", in.Filename,
		"format", fr.Format,
		"transactions", fr.Stats.TransactionCount,
		"new", fr.Stats.NewCount,
		"duplicates", fr.Stats.DuplicateCount,
		"cross_file", fr.Stats.CrossFileDuplicateCount,
		"skipped", len(fr.Skipped))
	return fr
}

func (p *Pipeline) persist(ctx context.Context, fr *FileResult, batch *domain.BatchImportSession) {
	session, err := domain.NewImportSession(fr.Filename, fr.Format, fr.AccountSource)
	if err != nil {
		fr.Err = domain.NewImportError(domain.ErrPersist, fr.Filename, err)
		return
	}
	session.CreatedAt = p.now().UTC()
	session.TransactionCount = len(fr.Forwarded)
	session.DuplicateCount = fr.Stats.DuplicateCount
	session.CrossFileDuplicateCount = fr.Stats.CrossFileDuplicateCount
	total := decimal.Zero
	for _, txn := range fr.Forwarded {
		total = total.Add(txn.Amount)
	}
	session.TotalAmount = total
	if !fr.Stats.DateStart.IsZero() {
		session.DateStart = fr.Stats.DateStart.Format(domain.DateLayout)
		session.DateEnd = fr.Stats.DateEnd.Format(domain.DateLayout)
	}
	if batch != nil {
		session.BatchID = batch.ID
	}

	if err := p.sink.SaveImport(ctx, session, fr.Forwarded); err != nil {
		fr.Err = importError(fr.Filename, err, domain.ErrPersist)
		return
	}
	fr.Session = session
	if batch != nil {
		batch.Attach(session)
	}

	if fr.customConfig != "" && p.configs != nil {
		if err := p.configs.RecordUse(ctx, fr.customConfig); err != nil {
			p.logger.Warn("Failed to record custom format use", "format", fr.customConfig, "error", err)
		}
	}

	p.logger.Info("Imported file",
		"file", fr.Filename,
		"session", session.ID,
		"imported", session.TransactionCount,
		"duplicates", session.DuplicateCount,
		"cross_file", session.CrossFileDuplicateCount)
}

// importError classifies err under the first known import error kind it
// wraps, or under fallback.
func importError(filename string, err error, fallback error) *domain.ImportError {
	var ie *domain.ImportError
	if errors.As(err, &ie) {
		if ie.Filename == "" {
			ie.Filename = filename
		}
		return ie
	}
	for _, kind := range []error{
		domain.ErrConfigNotFound,
		domain.ErrUnsupportedFormat,
		domain.ErrNoTransactionsParsed,
		domain.ErrParse,
		domain.ErrPersist,
	} {
		if errors.Is(err, kind) {
			return domain.NewImportError(kind, filename, err)
		}
	}
	return domain.NewImportError(fallback, filename, err)
}
