package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"priorityline/internal/config"
	"priorityline/internal/db"
	"priorityline/internal/domain"
	"priorityline/internal/engine"
	"priorityline/internal/migrate"
	"priorityline/internal/repo"
	prioritylinesdk "priorityline/sdk/go"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, cfg)
	e.Now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }
	seedPriorities(t, e.Repo)
	if err := e.Repo.InsertAPIKey(context.Background(), domain.APIKey{ID: "k1", Name: "dash", Role: "viewer", KeyHash: repo.HashAPIKey("viewer-key")}); err != nil {
		t.Fatalf("seed api key: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedPriorities(t *testing.T, r repo.Repo) {
	t.Helper()
	day := func(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }
	ptr := func(v time.Time) *time.Time { return &v }
	items := []domain.Priority{
		{ID: "overdue", Status: domain.StatusOpen, UntilAt: day(3, 15)},
		{ID: "carried", Status: domain.StatusOpen, UntilAt: day(1, 5)},
		{ID: "on-time", Status: domain.StatusClosed, UntilAt: day(3, 10), FinishedAt: ptr(day(3, 9))},
		{ID: "later", Status: domain.StatusClosed, UntilAt: day(3, 12), FinishedAt: ptr(day(4, 2))},
		{ID: "canceled", Status: domain.StatusCanceled, UntilAt: day(3, 25), CanceledAt: ptr(day(3, 2))},
		{ID: "other-pos", Status: domain.StatusOpen, UntilAt: day(3, 28), PositionID: "pos-2"},
	}
	for _, p := range items {
		if p.PositionID == "" {
			p.PositionID = "pos-1"
		}
		p.Name = p.ID
		p.IsActive = true
		if err := r.UpsertPriority(context.Background(), nil, p); err != nil {
			t.Fatalf("seed %s: %v", p.ID, err)
		}
	}
}

func mintToken(t *testing.T, roles, perms []string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles:       roles,
		Permissions: perms,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doGet(t *testing.T, client *http.Client, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env.Error
}

func TestHealthAndAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doGet(t, srv.Client(), srv.URL+"/v1/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, data := doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	if body := decodeError(t, data); body.Code != "unauthorized" {
		t.Fatalf("unexpected code %q", body.Code)
	}

	res, data = doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp", bearer("not-a-jwt"))
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, data)
	}

	res, data = doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp", bearer(mintToken(t, nil, []string{"something.else"})))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "forbidden" || body.Details["permission"] != "priority.read" {
		t.Fatalf("unexpected forbidden body %+v", body)
	}
}

func TestPeriodICPEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := mintToken(t, []string{"viewer"}, nil)

	res, data := doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp?month=3&year=2024&positionId=pos-1", bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("icp status %d: %s", res.StatusCode, data)
	}
	var got engine.ICPResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode icp: %v", err)
	}
	// planned: overdue, carried, on-time, later; completed: on-time.
	if got.TotalPlanned != 4 || got.TotalCompleted != 1 || got.ICP != 25 {
		t.Fatalf("unexpected icp %+v", got)
	}
	if got.Canceled != 1 || got.CompletedInOtherMonth != 1 || got.NotCompletedOverdue != 1 || got.NotCompletedPreviousMonths != 1 {
		t.Fatalf("unexpected buckets %+v", got.Buckets)
	}
	if got.PositionID == nil || *got.PositionID != "pos-1" || got.ObjectiveID != nil {
		t.Fatalf("scope echo wrong: %+v", got)
	}

	res, data = doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp?month=13", bearer(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for month=13, got %d %s", res.StatusCode, data)
	}
}

func TestListPrioritiesEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := map[string]string{"X-Api-Key": "viewer-key"}

	res, data := doGet(t, srv.Client(), srv.URL+"/v1/priorities?positionId=pos-1&limit=2", headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var page struct {
		Items []struct {
			ID           string `json:"id"`
			MonthlyClass string `json:"monthlyClass"`
			Compliance   string `json:"compliance"`
		} `json:"items"`
		Total int              `json:"total"`
		Page  int              `json:"page"`
		Limit int              `json:"limit"`
		ICP   engine.ICPResult `json:"icp"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 5 || page.Page != 1 || page.Limit != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].ID != "carried" || page.Items[0].MonthlyClass != "OVERDUE_CARRIED_FROM_EARLIER" || page.Items[0].Compliance != "NOT_MET" {
		t.Fatalf("unexpected first item %+v", page.Items[0])
	}
	if page.Items[1].ID != "overdue" || page.Items[1].MonthlyClass != "OVERDUE_THIS_PERIOD" {
		t.Fatalf("unexpected second item %+v", page.Items[1])
	}
	if page.ICP.Month != 3 || page.ICP.Year != 2024 || page.ICP.ICP != 25 {
		t.Fatalf("embedded icp wrong: %+v", page.ICP)
	}

	res, _ = doGet(t, srv.Client(), srv.URL+"/v1/priorities", map[string]string{"X-Api-Key": "nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestSeriesEndpointErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := mintToken(t, nil, []string{"priority.read"})

	for _, q := range []string{"from=2024-05&to=2024-01", "from=2020-01&to=2024-01"} {
		res, data := doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp/series?"+q, bearer(token))
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %s", q, res.StatusCode, data)
		}
		if code := decodeError(t, data).Code; code != "invalid_range" {
			t.Fatalf("%s: expected invalid_range, got %q", q, code)
		}
	}
	res, data := doGet(t, srv.Client(), srv.URL+"/v1/priorities/icp/series?from=2024-1", bearer(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed month, got %d %s", res.StatusCode, data)
	}
}

func TestSDKRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	client := prioritylinesdk.New(srv.URL)
	client.BearerToken = mintToken(t, []string{"viewer"}, nil)

	single, err := client.GetICP(ctx, prioritylinesdk.Query{Month: 3, Year: 2024, PositionID: "pos-1"})
	if err != nil {
		t.Fatalf("get icp: %v", err)
	}
	series, err := client.GetICPSeries(ctx, "2024-01", "2024-04", "pos-1", "")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if len(series.Items) != 4 || series.From != "2024-01" || series.To != "2024-04" {
		t.Fatalf("unexpected series %+v", series)
	}
	march := series.Items[2]
	if march.Month != 3 || march.ICP != single.ICP || march.TotalPlanned != single.TotalPlanned || march.Buckets != single.Buckets {
		t.Fatalf("series month differs from single query: %+v vs %+v", march, single)
	}
	if march.PositionID != nil {
		t.Fatalf("series items must not echo scope: %+v", march)
	}

	page, err := client.ListPriorities(ctx, prioritylinesdk.Query{Month: 3, Year: 2024})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 6 || page.ICP == nil {
		t.Fatalf("unexpected page %+v", page)
	}

	_, err = client.GetICPSeries(ctx, "2024-05", "2024-01", "", "")
	var apiErr *prioritylinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_range" {
		t.Fatalf("expected invalid_range api error, got %v", err)
	}
}

func TestOpenAPIAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doGet(t, srv.Client(), srv.URL+"/v1/openapi.json", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	for _, p := range []string{"/v1/priorities", "/v1/priorities/icp", "/v1/priorities/icp/series"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}

	res, data = doGet(t, srv.Client(), srv.URL+"/v1/me", map[string]string{"X-Api-Key": "viewer-key"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, data)
	}
	var me MeBody
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Subject != "dash" || me.Source != "api_key" || len(me.Permissions) != 1 || me.Permissions[0] != "priority.read" {
		t.Fatalf("unexpected principal %+v", me)
	}
}
