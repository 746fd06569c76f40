package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorityline/internal/config"
	"priorityline/internal/db"
	"priorityline/internal/domain"
	"priorityline/internal/engine"
	"priorityline/internal/migrate"
	"priorityline/internal/period"
	"priorityline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	eng := engine.New(conn, dialect, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) seed(t *testing.T, items ...domain.Priority) {
	t.Helper()
	for _, p := range items {
		if p.PositionID == "" {
			p.PositionID = "pos-1"
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		p.IsActive = true
		if err := env.Engine.Repo.UpsertPriority(env.Ctx, nil, p); err != nil {
			t.Fatalf("seed %s: %v", p.ID, err)
		}
	}
}

func seedScenarios(t *testing.T, env testEnv) {
	env.seed(t,
		domain.Priority{ID: "due-mar-15", Status: domain.StatusOpen, UntilAt: day(2024, 3, 15)},
		domain.Priority{ID: "closed-feb", Status: domain.StatusClosed, UntilAt: day(2024, 2, 10), FinishedAt: ptr(day(2024, 2, 9))},
		domain.Priority{ID: "open-jan", Status: domain.StatusOpen, UntilAt: day(2024, 1, 5)},
		domain.Priority{ID: "due-apr", Status: domain.StatusClosed, UntilAt: day(2024, 4, 1), FinishedAt: ptr(day(2024, 4, 10))},
		domain.Priority{ID: "late-apr", Status: domain.StatusClosed, UntilAt: day(2024, 3, 10), FinishedAt: ptr(day(2024, 4, 2))},
		domain.Priority{ID: "canceled", Status: domain.StatusCanceled, UntilAt: day(2024, 3, 25), CanceledAt: ptr(day(2024, 3, 2))},
	)
}

func classesOf(ev engine.Evaluation) map[string]domain.MonthlyClass {
	out := map[string]domain.MonthlyClass{}
	for _, item := range ev.Classification.Items {
		out[item.ID] = item.MonthlyClass
	}
	return out
}

func TestEvaluateScenarios(t *testing.T) {
	env := newTestEnv(t)
	seedScenarios(t, env)

	feb, err := env.Engine.Evaluate(env.Ctx, mustPeriod(t, 2024, 2), engine.Scope{})
	require.NoError(t, err)
	febClasses := classesOf(feb)
	assert.Equal(t, domain.ClassCompletedOnTime, febClasses["closed-feb"])
	assert.Equal(t, domain.ClassOverdueCarried, febClasses["open-jan"])

	mar, err := env.Engine.Evaluate(env.Ctx, mustPeriod(t, 2024, 3), engine.Scope{})
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.MonthlyClass{
		"due-mar-15": domain.ClassOverdueThisPeriod,
		"open-jan":   domain.ClassOverdueCarried,
		"late-apr":   domain.ClassCompletedInLaterPeriod,
		"canceled":   domain.ClassCanceled,
	}, classesOf(mar))
	assert.Zero(t, mar.Classification.CompletedEarly)
	assert.Equal(t, 3, mar.Summary.TotalPlanned)
	assert.Equal(t, 0, mar.Summary.TotalCompleted)
	assert.Equal(t, 1, mar.Buckets.Canceled)
}

func TestPeriodICPDefaultsAndScope(t *testing.T) {
	env := newTestEnv(t)
	obj := "obj-1"
	env.seed(t,
		domain.Priority{ID: "a", Status: domain.StatusClosed, UntilAt: day(2024, 3, 5), FinishedAt: ptr(day(2024, 3, 4)), ObjectiveID: &obj},
		domain.Priority{ID: "b", Status: domain.StatusOpen, UntilAt: day(2024, 3, 1)},
		domain.Priority{ID: "c", Status: domain.StatusOpen, UntilAt: day(2024, 3, 1), PositionID: "pos-2"},
	)

	res, err := env.Engine.PeriodICP(env.Ctx, 0, 0, engine.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Month)
	assert.Equal(t, 2024, res.Year)
	assert.Nil(t, res.PositionID)
	assert.Equal(t, 3, res.TotalPlanned)
	assert.Equal(t, 33.33, res.ICP)

	res, err = env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{PositionID: "pos-1"})
	require.NoError(t, err)
	require.NotNil(t, res.PositionID)
	assert.Equal(t, "pos-1", *res.PositionID)
	assert.Equal(t, 50.0, res.ICP)

	res, err = env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{PositionID: "pos-1", ObjectiveID: obj})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalPlanned)
	assert.Equal(t, 100.0, res.ICP)

	res, err = env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{PositionID: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, res.TotalPlanned)
	assert.Zero(t, res.ICP)

	_, err = env.Engine.PeriodICP(env.Ctx, 13, 2024, engine.Scope{})
	assert.True(t, errors.Is(err, period.ErrInvalidPeriod))
}

func TestListPrioritiesPagination(t *testing.T) {
	env := newTestEnv(t)
	seedScenarios(t, env)

	page, err := env.Engine.ListPriorities(env.Ctx, engine.ListOptions{Month: 3, Year: 2024, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "open-jan", page.Items[0].ID)
	assert.Equal(t, "due-mar-15", page.Items[1].ID)
	require.NotNil(t, page.ICP)
	assert.Equal(t, 3, page.ICP.TotalPlanned)

	page, err = env.Engine.ListPriorities(env.Ctx, engine.ListOptions{Month: 3, Year: 2024, Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "late-apr", page.Items[0].ID)
	assert.Equal(t, "canceled", page.Items[1].ID)

	page, err = env.Engine.ListPriorities(env.Ctx, engine.ListOptions{Month: 3, Year: 2024, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, engine.DefaultPageLimit, page.Limit)

	page, err = env.Engine.ListPriorities(env.Ctx, engine.ListOptions{Month: 3, Year: 2024, Limit: 10_000})
	require.NoError(t, err)
	assert.Equal(t, engine.MaxPageLimit, page.Limit)
}

func TestSeriesMatchesSinglePeriod(t *testing.T) {
	env := newTestEnv(t)
	seedScenarios(t, env)

	series, err := env.Engine.ICPSeries(env.Ctx, "2023-12", "2024-05", engine.Scope{PositionID: "pos-1"})
	require.NoError(t, err)
	assert.Equal(t, "2023-12", series.From)
	assert.Equal(t, "2024-05", series.To)
	require.Len(t, series.Items, 6)
	for _, item := range series.Items {
		single, err := env.Engine.PeriodICP(env.Ctx, item.Month, item.Year, engine.Scope{PositionID: "pos-1"})
		require.NoError(t, err)
		assert.Equal(t, single.Summary, item.Summary, "%d-%02d", item.Year, item.Month)
		assert.Equal(t, single.Buckets, item.Buckets, "%d-%02d", item.Year, item.Month)
	}
	assert.Equal(t, 12, series.Items[0].Month)
	assert.Equal(t, 2023, series.Items[0].Year)
	assert.Equal(t, 5, series.Items[5].Month)

	again, err := env.Engine.ICPSeries(env.Ctx, "2023-12", "2024-05", engine.Scope{PositionID: "pos-1"})
	require.NoError(t, err)
	assert.Equal(t, series, again)
}

func TestSeriesEmptyScope(t *testing.T) {
	env := newTestEnv(t)
	series, err := env.Engine.ICPSeries(env.Ctx, "2024-01", "2024-03", engine.Scope{})
	require.NoError(t, err)
	require.Len(t, series.Items, 3)
	for i, item := range series.Items {
		assert.Equal(t, i+1, item.Month)
		assert.Zero(t, item.ICP)
		assert.Zero(t, item.TotalPlanned)
		assert.Zero(t, item.TotalCompleted)
	}
}

func TestSeriesRangeErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ICPSeries(env.Ctx, "2024-05", "2024-01", engine.Scope{})
	assert.True(t, errors.Is(err, period.ErrInvalidRange))
	_, err = env.Engine.ICPSeries(env.Ctx, "2021-01", "2024-01", engine.Scope{})
	assert.True(t, errors.Is(err, period.ErrInvalidRange))
	_, err = env.Engine.ICPSeries(env.Ctx, "2021-02", "2024-01", engine.Scope{})
	assert.NoError(t, err)
	_, err = env.Engine.ICPSeries(env.Ctx, "2024-1", "2024-03", engine.Scope{})
	assert.Error(t, err)
}

func TestSeriesDefaultsToTrailingYear(t *testing.T) {
	env := newTestEnv(t)
	series, err := env.Engine.ICPSeries(env.Ctx, "", "", engine.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "2023-04", series.From)
	assert.Equal(t, "2024-03", series.To)
	assert.Len(t, series.Items, 12)
}

func TestCacheInvalidation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Engine.Cache.Size = 32
		c.Engine.Cache.TTL = time.Hour
	})
	env.seed(t, domain.Priority{ID: "p1", Status: domain.StatusOpen, UntilAt: day(2024, 3, 25)})

	first, err := env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{})
	require.NoError(t, err)
	require.Equal(t, 1, first.InProgress)

	env.seed(t, domain.Priority{ID: "p1", Status: domain.StatusClosed, UntilAt: day(2024, 3, 25), FinishedAt: ptr(day(2024, 3, 19))})
	stale, err := env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{})
	require.NoError(t, err)
	assert.Equal(t, first, stale)

	env.Engine.Invalidate()
	fresh, err := env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.CompletedOnTime)
	assert.Equal(t, 100.0, fresh.ICP)
}

type failingFinder struct{ engine.Finder }

func (failingFinder) FindCanceledInPeriod(context.Context, repo.PeriodQuery) ([]domain.Priority, error) {
	return nil, errors.New("connection reset")
}

func TestFetchErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Finder = failingFinder{Finder: env.Engine.Repo}
	_, err := env.Engine.PeriodICP(env.Ctx, 3, 2024, engine.Scope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
