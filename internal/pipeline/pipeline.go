// Package pipeline runs sittings through segmentation and persistence.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/fetcher"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/hansard"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resilience"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

// Pipeline turns cached sitting documents into stored blocks.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	source    fetcher.Source
	segmenter *hansard.Segmenter
	speakers  *hansard.SpeakerResolver
	primary   model.Lang
	retry     resilience.RetryConfig
	now       func() time.Time
}

// New creates a pipeline. speakers attributes speaking turns and is shared
// by every sitting the pipeline runs.
func New(cfg *config.Config, st store.Store, src fetcher.Source, speakers *hansard.SpeakerResolver) *Pipeline {
	r := cfg.Batch.Retry
	retry := resilience.FromRetryConfig(cfg.Store.Driver, r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)

	primary, ok := model.ParseLang(cfg.Corpus.Primary)
	if !ok {
		primary = model.EN
	}
	seg := hansard.NewSegmenter(speakers, hansard.Options{Primary: primary})
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		source:    src,
		segmenter: seg,
		speakers:  speakers,
		primary:   primary,
		retry:     retry,
		now:       time.Now,
	}
}

// Run processes one sitting from scratch and records its report. Failures of
// the sitting itself are reported, not returned; the error is reserved for
// cancellation and for reports that could not be recorded.
func (p *Pipeline) Run(ctx context.Context, sittingID string) (model.SittingReport, error) {
	log := zap.L().With(zap.String("sitting", sittingID))
	start := p.now()

	report := p.process(ctx, sittingID)
	report.UpdatedAt = p.now().UTC()
	if ctx.Err() != nil {
		return report, eris.Wrapf(ctx.Err(), "pipeline: sitting %s cancelled", sittingID)
	}

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("blocks", report.Blocks),
		zap.Duration("duration", p.now().Sub(start)),
	}
	switch report.Status {
	case model.SittingSuccess, model.SittingDefectSkipped:
		log.Info("pipeline: sitting processed", fields...)
	case model.SittingPendingEscalation:
		log.Info("pipeline: sitting awaiting escalation", append(fields, zap.String("detail", report.Detail))...)
	default:
		log.Error("pipeline: sitting failed", append(fields, zap.String("detail", report.Detail))...)
	}

	err := resilience.Do(ctx, p.retry, "record report "+sittingID, func(ctx context.Context) error {
		return p.store.RecordReport(ctx, report)
	})
	if err != nil {
		return report, eris.Wrapf(err, "pipeline: record report %s", sittingID)
	}
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, sittingID string) model.SittingReport {
	report := model.SittingReport{SittingID: sittingID}
	fail := func(status model.SittingStatus, err error) model.SittingReport {
		report.Status = status
		report.Detail = err.Error()
		return report
	}

	sitting, err := model.ParseSittingID(sittingID)
	if err != nil {
		return fail(model.SittingFailed, err)
	}
	report.SittingID = sitting.ID

	segmenter := p.segmenter
	if defect, ok := p.cfg.Defect(sitting.ID); ok {
		if defect.Mode == config.DefectSkip {
			report.Status = model.SittingDefectSkipped
			report.Detail = defect.Reason
			return report
		}
		segmenter = segmenter.WithRelaxed(true)
	}

	primary, err := p.document(ctx, sitting.ID, p.primary)
	if err != nil {
		return fail(model.SittingFailed, err)
	}
	secondary, err := p.document(ctx, sitting.ID, p.primary.Other())
	if errors.Is(err, fetcher.ErrNotCached) {
		zap.L().Warn("pipeline: secondary document missing, segmenting primary only",
			zap.String("sitting", sitting.ID),
			zap.String("lang", string(p.primary.Other())),
		)
		secondary = nil
	} else if err != nil {
		return fail(model.SittingFailed, err)
	}

	if sitting.Date, err = hansard.SittingDate(primary, secondary); err != nil {
		zap.L().Warn("pipeline: sitting date unknown, timestamps carry time of day only",
			zap.String("sitting", sitting.ID), zap.Error(err))
	}

	seg, err := segmenter.Segment(ctx, sitting, primary, secondary)
	if err != nil {
		var pending *resolve.PendingError
		var schema *hansard.SchemaError
		switch {
		case errors.As(err, &pending):
			return fail(model.SittingPendingEscalation, err)
		case errors.As(err, &schema):
			return fail(model.SittingSchemaError, err)
		default:
			return fail(model.SittingFailed, err)
		}
	}

	err = resilience.Do(ctx, p.retry, "save sitting "+sitting.ID, func(ctx context.Context) error {
		return p.store.SaveSitting(ctx, store.SittingSave{
			SittingID: sitting.ID,
			Blocks:    seg.Blocks,
			Variants:  seg.Learned,
			Aliases:   seg.Aliases,
		})
	})
	if err != nil {
		return fail(model.SittingFailed, eris.Wrapf(err, "pipeline: save sitting %s", sitting.ID))
	}
	// Names learned by a sitting that failed earlier are dropped with it, so
	// the next sitting to meet them learns and saves them again.
	if p.speakers != nil {
		if err := p.speakers.Commit(seg.Aliases, seg.Learned); err != nil {
			zap.L().Warn("pipeline: learned names not shared with later sittings",
				zap.String("sitting", sitting.ID), zap.Error(err))
		}
	}

	report.Status = model.SittingSuccess
	report.Blocks = len(seg.Blocks)
	return report
}

func (p *Pipeline) document(ctx context.Context, sittingID string, lang model.Lang) (*hansard.Node, error) {
	rc, err := p.source.Open(ctx, sittingID, lang)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return parse(rc, sittingID, lang)
}

func parse(r io.Reader, sittingID string, lang model.Lang) (*hansard.Node, error) {
	root, err := hansard.ParseDocument(r)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse %s %s", sittingID, lang)
	}
	return root, nil
}
