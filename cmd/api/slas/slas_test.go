package slas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

type fakeDB struct {
	rows      []sla.Policy
	workspace string
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.workspace, _ = args[0].(string)
	return &fakeRows{rows: db.rows}, nil
}
func (db *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (db *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

type fakeRows struct {
	rows []sla.Policy
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	p := r.rows[r.i-1]
	*(dest[0].(*string)) = p.ID
	*(dest[1].(*string)) = p.WorkspaceID
	*(dest[2].(*int)) = p.Priority
	*(dest[3].(*int)) = p.ResponseHours
	*(dest[4].(*int)) = p.ResolutionHours
	return nil
}

func newTestApp(db app.DB) *app.App {
	gin.SetMode(gin.TestMode)
	a := app.NewApp(app.Config{Env: "test"}, db, nil)
	a.R.GET("/workspaces/:id/slas", List(a))
	a.R.POST("/business-hours", Calculate())
	return a
}

func TestList(t *testing.T) {
	db := &fakeDB{rows: []sla.Policy{
		{ID: "p1", WorkspaceID: "w1", Priority: 1, ResponseHours: 1, ResolutionHours: 4},
		{ID: "p2", WorkspaceID: "w1", Priority: 2, ResponseHours: 4, ResolutionHours: 18},
	}}
	a := newTestApp(db)
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/workspaces/w1/slas", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out []sla.Policy
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out) != 2 || out[1].ResolutionHours != 18 {
		t.Fatalf("unexpected policies %+v", out)
	}
	if db.workspace != "w1" {
		t.Fatalf("expected workspace filter w1, got %q", db.workspace)
	}
}

func post(a *app.App, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/business-hours", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	return rr
}

func TestCalculate(t *testing.T) {
	a := newTestApp(nil)
	tests := []struct {
		name   string
		body   string
		status int
		check  func(t *testing.T, out calcResp)
	}{
		{
			name:   "between instants",
			body:   `{"start":"2024-01-19T16:00:00Z","end":"2024-01-22T10:30:00Z"}`,
			status: http.StatusOK,
			check: func(t *testing.T, out calcResp) {
				if out.Minutes == nil || *out.Minutes != 210 || out.Formatted != "3h 30m" {
					t.Fatalf("unexpected result %+v", out)
				}
			},
		},
		{
			name:   "due from hours",
			body:   `{"start":"2024-01-19T16:00:00Z","hours":4}`,
			status: http.StatusOK,
			check: func(t *testing.T, out calcResp) {
				want := time.Date(2024, 1, 22, 11, 0, 0, 0, time.UTC)
				if out.DueAt == nil || !out.DueAt.Equal(want) {
					t.Fatalf("unexpected due %v", out.DueAt)
				}
			},
		},
		{name: "negative hours", body: `{"start":"2024-01-19T16:00:00Z","hours":-1}`, status: http.StatusBadRequest},
		{name: "hours beyond range", body: `{"start":"2024-01-19T16:00:00Z","hours":3e6}`, status: http.StatusBadRequest},
		{name: "neither", body: `{"start":"2024-01-19T16:00:00Z"}`, status: http.StatusBadRequest},
		{name: "both", body: `{"start":"2024-01-19T16:00:00Z","end":"2024-01-22T10:30:00Z","hours":1}`, status: http.StatusBadRequest},
		{name: "missing start", body: `{"hours":1}`, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(a, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.check == nil {
				return
			}
			var out calcResp
			if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			tc.check(t, out)
		})
	}
}

func TestCalculateInvalidArgumentCode(t *testing.T) {
	rr := post(newTestApp(nil), `{"start":"2024-01-19T16:00:00Z","hours":-2}`)
	var env app.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if env.Error == nil || env.Error.Code != "invalid_argument" {
		t.Fatalf("unexpected envelope %+v", env.Error)
	}
}

func TestUpsert(t *testing.T) {
	gin.SetMode(gin.TestMode)
	newApp := func(role string) *app.App {
		a := app.NewApp(app.Config{Env: "test"}, nil, nil)
		a.R.PUT("/workspaces/:id/slas/:priority", func(c *gin.Context) { c.Set("workspace_role", role) }, Upsert(a))
		return a
	}
	put := func(a *app.App, path, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		a.R.ServeHTTP(rr, req)
		return rr
	}
	body := `{"response_hours":2,"resolution_hours":9}`

	rr := put(newApp("admin"), "/workspaces/w1/slas/2", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var p sla.Policy
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if p.WorkspaceID != "w1" || p.Priority != 2 || p.ResolutionHours != 9 {
		t.Fatalf("unexpected policy %+v", p)
	}
	if rr := put(newApp("member"), "/workspaces/w1/slas/2", body); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", rr.Code)
	}
	if rr := put(newApp("owner"), "/workspaces/w1/slas/9", body); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for priority, got %d", rr.Code)
	}
	if rr := put(newApp("owner"), "/workspaces/w1/slas/1", `{"response_hours":1,"resolution_hours":-4}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative hours, got %d", rr.Code)
	}
}
