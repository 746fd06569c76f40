package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"priorityline/internal/config"
	"priorityline/internal/domain"
	"priorityline/internal/period"
	"priorityline/internal/repo"
)

// Finder is the persistence boundary: five independent dataset lookups.
type Finder interface {
	FindOpenCarriedOver(ctx context.Context, q repo.PeriodQuery) ([]domain.Priority, error)
	FindOpenDueInPeriod(ctx context.Context, q repo.PeriodQuery) ([]domain.Priority, error)
	FindClosedInPeriod(ctx context.Context, q repo.PeriodQuery) ([]domain.Priority, error)
	FindCanceledInPeriod(ctx context.Context, q repo.PeriodQuery) ([]domain.Priority, error)
	FindCompletedInLaterPeriod(ctx context.Context, q repo.PeriodQuery) ([]domain.Priority, error)
}

// Scope narrows a computation to a position and/or objective.
type Scope struct {
	PositionID  string
	ObjectiveID string
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Finder   Finder
	Config   *config.Config
	Now      func() time.Time
	Location *time.Location
	// SeriesConcurrency bounds how many months a series evaluates at once.
	SeriesConcurrency int
	cache             *datasetCache
}

func New(conn *sql.DB, dialect string, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	loc, err := period.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Engine.Timezone).Msg("falling back to UTC")
		loc = time.UTC
	}
	return Engine{
		DB:                conn,
		Repo:              r,
		Finder:            r,
		Config:            cfg,
		Now:               time.Now,
		Location:          loc,
		SeriesConcurrency: cfg.Engine.SeriesConcurrency,
		cache:             newDatasetCache(cfg.Engine.Cache.Size, cfg.Engine.Cache.TTL),
	}
}

// Clock exposes the engine's notion of now and today.
func (e Engine) Clock() period.Clock {
	return period.Clock{Now: e.Now, Location: e.Location}
}

// Invalidate drops cached datasets; call it after writing priorities.
func (e Engine) Invalidate() {
	e.cache.purge()
}

// FetchDataset issues the five dataset queries concurrently.
func (e Engine) FetchDataset(ctx context.Context, p period.Period, s Scope) (Dataset, error) {
	if ds, ok := e.cache.get(p, s); ok {
		log.Debug().Str("period", p.String()).Msg("dataset cache hit")
		return ds, nil
	}
	q := repo.PeriodQuery{Month: int(p.Month), Year: p.Year, PositionID: s.PositionID, ObjectiveID: s.ObjectiveID}
	var ds Dataset
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(name string, dst *[]domain.Priority, fn func(context.Context, repo.PeriodQuery) ([]domain.Priority, error)) {
		g.Go(func() error {
			items, err := fn(gctx, q)
			if err != nil {
				return fmt.Errorf("fetch %s for %s: %w", name, p, err)
			}
			*dst = items
			return nil
		})
	}
	fetch("open carried over", &ds.OpenCarriedOver, e.Finder.FindOpenCarriedOver)
	fetch("open due", &ds.OpenDueThisPeriod, e.Finder.FindOpenDueInPeriod)
	fetch("closed", &ds.ClosedThisPeriod, e.Finder.FindClosedInPeriod)
	fetch("canceled", &ds.CanceledThisPeriod, e.Finder.FindCanceledInPeriod)
	fetch("completed later", &ds.CompletedInLaterPeriod, e.Finder.FindCompletedInLaterPeriod)
	if err := g.Wait(); err != nil {
		return Dataset{}, err
	}
	log.Debug().
		Str("period", p.String()).
		Str("position_id", s.PositionID).
		Str("objective_id", s.ObjectiveID).
		Int("rows", ds.Size()).
		Msg("dataset fetched")
	e.cache.put(p, s, ds)
	return ds, nil
}

// Evaluation is the full single-period pipeline output.
type Evaluation struct {
	Period         period.Period
	Scope          Scope
	Classification Classification
	Buckets        Buckets
	Summary        Summary
}

// Evaluate runs fetch, classify, aggregate and ICP for one period. Every
// read endpoint goes through here.
func (e Engine) Evaluate(ctx context.Context, p period.Period, s Scope) (Evaluation, error) {
	return e.evaluate(ctx, p, s, e.Clock().Today())
}

func (e Engine) evaluate(ctx context.Context, p period.Period, s Scope, today time.Time) (Evaluation, error) {
	ds, err := e.FetchDataset(ctx, p, s)
	if err != nil {
		return Evaluation{}, err
	}
	c := Classify(ds, p, today)
	b := Aggregate(c)
	return Evaluation{
		Period:         p,
		Scope:          s,
		Classification: c,
		Buckets:        b,
		Summary:        ComputeICP(b),
	}, nil
}

// ICPResult is the single-period ICP with its scope echoed back.
type ICPResult struct {
	Month       int     `json:"month"`
	Year        int     `json:"year"`
	PositionID  *string `json:"positionId,omitempty"`
	ObjectiveID *string `json:"objectiveId,omitempty"`
	Summary
	Buckets
}

// ICPPeriodItem is one month of a series.
type ICPPeriodItem struct {
	Month int `json:"month"`
	Year  int `json:"year"`
	Summary
	Buckets
}

func (ev Evaluation) PeriodItem() ICPPeriodItem {
	return ICPPeriodItem{Month: int(ev.Period.Month), Year: ev.Period.Year, Summary: ev.Summary, Buckets: ev.Buckets}
}

func (ev Evaluation) ICP() ICPResult {
	return ICPResult{
		Month:       int(ev.Period.Month),
		Year:        ev.Period.Year,
		PositionID:  optionalString(ev.Scope.PositionID),
		ObjectiveID: optionalString(ev.Scope.ObjectiveID),
		Summary:     ev.Summary,
		Buckets:     ev.Buckets,
	}
}

// PeriodICP resolves month/year (zero means current) and returns its ICP.
func (e Engine) PeriodICP(ctx context.Context, month, year int, s Scope) (ICPResult, error) {
	p, err := period.Resolve(e.Clock(), month, year)
	if err != nil {
		return ICPResult{}, err
	}
	ev, err := e.Evaluate(ctx, p, s)
	if err != nil {
		return ICPResult{}, err
	}
	return ev.ICP(), nil
}

// ListOptions selects one page of a period's classified priorities.
type ListOptions struct {
	Month int
	Year  int
	Scope Scope
	Page  int
	Limit int
}

type PriorityPage struct {
	Items []ClassifiedPriority `json:"items"`
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
	ICP   *ICPResult           `json:"icp,omitempty"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

func normalizeLimit(in int) int {
	if in <= 0 {
		return DefaultPageLimit
	}
	if in > MaxPageLimit {
		return MaxPageLimit
	}
	return in
}

// ListPriorities returns the severity-ordered, paginated classification for a
// period along with that period's ICP.
func (e Engine) ListPriorities(ctx context.Context, opts ListOptions) (PriorityPage, error) {
	p, err := period.Resolve(e.Clock(), opts.Month, opts.Year)
	if err != nil {
		return PriorityPage{}, err
	}
	ev, err := e.Evaluate(ctx, p, opts.Scope)
	if err != nil {
		return PriorityPage{}, err
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := normalizeLimit(opts.Limit)
	items := ev.Classification.Items
	res := PriorityPage{Items: []ClassifiedPriority{}, Total: len(items), Page: page, Limit: limit}
	if offset := (page - 1) * limit; offset < len(items) {
		end := min(offset+limit, len(items))
		res.Items = items[offset:end]
	}
	icp := ev.ICP()
	res.ICP = &icp
	return res, nil
}

// Series is a chronological run of monthly ICP items.
type Series struct {
	PositionID  *string         `json:"positionId"`
	ObjectiveID *string         `json:"objectiveId,omitempty"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Items       []ICPPeriodItem `json:"items"`
}

// ICPSeries evaluates every month in [from, to] independently. Months run
// concurrently up to SeriesConcurrency; results keep chronological order.
func (e Engine) ICPSeries(ctx context.Context, from, to string, s Scope) (Series, error) {
	clock := e.Clock()
	periods, err := period.ResolveRange(clock, from, to)
	if err != nil {
		return Series{}, err
	}
	today := clock.Today()
	items := make([]ICPPeriodItem, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.seriesConcurrency())
	for i, p := range periods {
		g.Go(func() error {
			ev, err := e.evaluate(gctx, p, s, today)
			if err != nil {
				return err
			}
			items[i] = ev.PeriodItem()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Series{}, err
	}
	return Series{
		PositionID:  optionalString(s.PositionID),
		ObjectiveID: optionalString(s.ObjectiveID),
		From:        periods[0].String(),
		To:          periods[len(periods)-1].String(),
		Items:       items,
	}, nil
}

func (e Engine) seriesConcurrency() int {
	if e.SeriesConcurrency < 1 {
		return 1
	}
	if e.SeriesConcurrency > period.MaxSeriesMonths {
		return period.MaxSeriesMonths
	}
	return e.SeriesConcurrency
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
