package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"priorityline/internal/domain"
)

// FixtureFile is the YAML document accepted by `pl import`.
type FixtureFile struct {
	Priorities []FixturePriority `yaml:"priorities" validate:"dive"`
}

// FixturePriority is one imported record. Dates accept YYYY-MM-DD or RFC 3339.
type FixturePriority struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Order       int    `yaml:"order" validate:"gte=0"`
	FromAt      string `yaml:"fromAt" validate:"omitempty,fixture_date"`
	UntilAt     string `yaml:"untilAt" validate:"required,fixture_date"`
	FinishedAt  string `yaml:"finishedAt" validate:"omitempty,fixture_date"`
	CanceledAt  string `yaml:"canceledAt" validate:"omitempty,fixture_date"`
	Status      string `yaml:"status" validate:"required,oneof=OPEN CLOSED CANCELED"`
	PositionID  string `yaml:"positionId" validate:"required"`
	ObjectiveID string `yaml:"objectiveId"`
	Active      *bool  `yaml:"active"`
}

type ImportResult struct {
	Imported int      `json:"imported"`
	IDs      []string `json:"ids"`
}

var fixtureValidate = newFixtureValidator()

func newFixtureValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("fixture_date", func(fl validator.FieldLevel) bool {
		_, err := parseFixtureDate(fl.Field().String())
		return err == nil
	})
	return v
}

func parseFixtureDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func optionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, _ := parseFixtureDate(s)
	return &t
}

// ToPriority converts a validated record into a domain priority.
func (f FixturePriority) ToPriority() domain.Priority {
	p := domain.Priority{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Order:       f.Order,
		Status:      f.Status,
		PositionID:  f.PositionID,
		FinishedAt:  optionalDate(f.FinishedAt),
		CanceledAt:  optionalDate(f.CanceledAt),
		IsActive:    f.Active == nil || *f.Active,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UntilAt, _ = parseFixtureDate(f.UntilAt)
	if f.FromAt != "" {
		p.FromAt, _ = parseFixtureDate(f.FromAt)
	}
	if f.ObjectiveID != "" {
		obj := f.ObjectiveID
		p.ObjectiveID = &obj
	}
	return p
}

// ParseFixtures decodes and validates a fixture document.
func ParseFixtures(data []byte) ([]domain.Priority, error) {
	var doc FixtureFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if len(doc.Priorities) == 0 {
		return nil, errors.New("fixtures: no priorities")
	}
	if err := fixtureValidate.Struct(doc); err != nil {
		return nil, fmt.Errorf("fixtures: %w", err)
	}
	out := make([]domain.Priority, 0, len(doc.Priorities))
	for _, f := range doc.Priorities {
		out = append(out, f.ToPriority())
	}
	return out, nil
}

// ImportFixtures upserts every record in one transaction and drops cached
// datasets on success.
func (a *App) ImportFixtures(ctx context.Context, data []byte) (ImportResult, error) {
	items, err := ParseFixtures(data)
	if err != nil {
		return ImportResult{}, err
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()
	res := ImportResult{IDs: make([]string, 0, len(items))}
	r := a.Repo()
	for _, p := range items {
		if err := r.UpsertPriority(ctx, tx, p); err != nil {
			return ImportResult{}, err
		}
		res.IDs = append(res.IDs, p.ID)
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	res.Imported = len(items)
	a.Engine.Invalidate()
	log.Info().Int("count", res.Imported).Msg("priorities imported")
	return res, nil
}

// ImportFixturesFile reads path and imports it.
func (a *App) ImportFixturesFile(ctx context.Context, path string) (ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, err
	}
	return a.ImportFixtures(ctx, data)
}
