package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorityline/internal/app"
	"priorityline/internal/config"
	"priorityline/internal/domain"
)

const fixtures = `
priorities:
  - id: p-open
    name: Close Q1 books
    untilAt: 2024-03-15
    status: OPEN
    positionId: cfo
  - name: Hire analyst
    untilAt: 2024-03-10
    finishedAt: "2024-03-09T17:00:00Z"
    status: CLOSED
    positionId: cfo
    objectiveId: growth
  - id: p-canceled
    name: Rebrand
    untilAt: 2024-04-01
    canceledAt: 2024-03-02
    status: CANCELED
    positionId: cmo
    active: false
`

func openApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.Open(t.TempDir(), config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestImportFixtures(t *testing.T) {
	a := openApp(t)
	ctx := context.Background()
	res, err := a.ImportFixtures(ctx, []byte(fixtures))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)
	require.Len(t, res.IDs, 3)
	assert.Equal(t, "p-open", res.IDs[0])
	assert.NotEmpty(t, res.IDs[1])

	closed, err := a.Repo().GetPriority(ctx, res.IDs[1])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	require.NotNil(t, closed.ObjectiveID)
	assert.Equal(t, "growth", *closed.ObjectiveID)
	assert.Equal(t, 3, closed.Month)

	canceled, err := a.Repo().GetPriority(ctx, "p-canceled")
	require.NoError(t, err)
	assert.False(t, canceled.IsActive)

	n, err := a.Repo().CountPriorities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImportFixturesRejectsInvalid(t *testing.T) {
	a := openApp(t)
	ctx := context.Background()
	cases := map[string]string{
		"bad status":    "priorities:\n  - {name: x, untilAt: 2024-03-01, status: DONE, positionId: p}\n",
		"bad date":      "priorities:\n  - {name: x, untilAt: 03/01/2024, status: OPEN, positionId: p}\n",
		"missing pos":   "priorities:\n  - {name: x, untilAt: 2024-03-01, status: OPEN}\n",
		"closed no end": "priorities:\n  - {name: x, untilAt: 2024-03-01, status: CLOSED, positionId: p}\n",
		"empty":         "priorities: []\n",
	}
	for name, doc := range cases {
		_, err := a.ImportFixtures(ctx, []byte(doc))
		assert.Error(t, err, name)
	}
	n, err := a.Repo().CountPriorities(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenLoadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := strings.Replace(config.GenerateDefault(), "timezone: UTC", "timezone: America/Mexico_City", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "priorityline.yml"), []byte(yml), 0o644))
	a, err := app.Open(dir, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "America/Mexico_City", a.Engine.Location.String())

	_, err = a.ImportFixturesFile(context.Background(), filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
