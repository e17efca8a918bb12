package issues

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
	"github.com/prometheus/client_golang/prometheus/testutil"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	authpkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/auth"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/events"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/metrics"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.scan(dest...)
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	issue  *Issue
	policy *sla.Policy
	execs  []execCall
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	switch {
	case strings.Contains(sql, "from issues i"):
		if db.issue == nil || args[0] != db.issue.ID || args[1] != "test-user" {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		i := *db.issue
		return &fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = i.ID
			*(dest[1].(*string)) = i.WorkspaceID
			*(dest[2].(*string)) = i.Identifier
			*(dest[3].(*string)) = i.Title
			*(dest[4].(*string)) = i.Status
			*(dest[5].(*int)) = i.Priority
			*(dest[6].(**time.Time)) = i.ReportedAt
			*(dest[7].(*time.Time)) = i.CreatedAt
			*(dest[8].(**time.Time)) = i.FirstResponseAt
			*(dest[9].(**time.Time)) = i.ResolvedAt
			*(dest[10].(**int)) = i.ResolutionTimeMinutes
			return nil
		}}
	case strings.Contains(sql, "from sla_policies"):
		if db.policy == nil {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		p := *db.policy
		return &fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = p.ID
			*(dest[1].(*string)) = p.WorkspaceID
			*(dest[2].(*int)) = p.Priority
			*(dest[3].(*int)) = p.ResponseHours
			*(dest[4].(*int)) = p.ResolutionHours
			return nil
		}}
	}
	return &fakeRow{err: pgx.ErrNoRows}
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) update(t *testing.T) execCall {
	t.Helper()
	for _, e := range db.execs {
		if strings.HasPrefix(e.sql, "update issues") {
			return e
		}
	}
	t.Fatalf("no update executed")
	return execCall{}
}

func at(day, hour, min int) time.Time {
	return time.Date(2024, time.January, day, hour, min, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func newTestApp(db *fakeDB, now time.Time) *app.App {
	gin.SetMode(gin.TestMode)
	a := app.NewApp(app.Config{Env: "test", TestBypassAuth: true}, db, nil)
	a.Now = func() time.Time { return now }
	g := a.R.Group("/", authpkg.Middleware(a))
	g.GET("/issues/:id", Get(a))
	g.PATCH("/issues/:id/status", Transition(a))
	g.GET("/issues/:id/sla", SLA(a))
	return a
}

func patchStatus(a *app.App, id, status string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/issues/"+id+"/status", strings.NewReader(`{"status":"`+status+`"}`))
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	return rr
}

func TestTransitionStampsFirstResponse(t *testing.T) {
	now := at(15, 11, 0)
	db := &fakeDB{issue: &Issue{ID: "i1", WorkspaceID: "w1", Status: StatusTodo, CreatedAt: at(15, 10, 0)}}
	a := newTestApp(db, now)

	rr := patchStatus(a, "i1", StatusInProgress)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	up := db.update(t)
	if got := up.args[2].(*time.Time); got == nil || !got.Equal(now) {
		t.Fatalf("first_response_at not stamped: %v", up.args[2])
	}
	if up.args[3].(*time.Time) != nil {
		t.Fatalf("resolved_at should stay empty")
	}
}

func TestTransitionKeepsFirstResponse(t *testing.T) {
	first := at(15, 10, 30)
	db := &fakeDB{issue: &Issue{ID: "i1", Status: StatusInProgress, CreatedAt: at(15, 10, 0), FirstResponseAt: &first}}
	a := newTestApp(db, at(15, 12, 0))

	if rr := patchStatus(a, "i1", StatusInReview); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := db.update(t).args[2].(*time.Time); !got.Equal(first) {
		t.Fatalf("first response overwritten: %v", got)
	}
}

func TestTransitionResolve(t *testing.T) {
	reported := at(15, 10, 0)
	db := &fakeDB{issue: &Issue{ID: "i1", WorkspaceID: "w1", Status: StatusInProgress, CreatedAt: at(14, 20, 0), ReportedAt: &reported}}
	a := newTestApp(db, at(16, 11, 0))
	before := testutil.ToFloat64(metrics.IssuesResolvedTotal)

	rr := patchStatus(a, "i1", StatusDone)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out Issue
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	// Mon 10:00-18:00 plus Tue 09:00-11:00
	if out.ResolutionTimeMinutes == nil || *out.ResolutionTimeMinutes != 600 {
		t.Fatalf("unexpected resolution minutes %v", out.ResolutionTimeMinutes)
	}
	if got := db.update(t).args[4].(*int); got == nil || *got != 600 {
		t.Fatalf("resolution minutes not persisted: %v", got)
	}
	if got := testutil.ToFloat64(metrics.IssuesResolvedTotal) - before; got != 1 {
		t.Fatalf("expected resolved counter +1, got %v", got)
	}
	var emitted bool
	for _, e := range db.execs {
		if strings.HasPrefix(e.sql, "insert into issue_events") && e.args[1] == events.StatusChanged {
			emitted = true
		}
	}
	if !emitted {
		t.Fatalf("status change event not emitted")
	}
}

func TestTransitionReopen(t *testing.T) {
	resolved := at(16, 11, 0)
	db := &fakeDB{issue: &Issue{ID: "i1", Status: StatusDone, CreatedAt: at(15, 10, 0), ResolvedAt: &resolved, ResolutionTimeMinutes: ptr(600)}}
	a := newTestApp(db, at(17, 9, 30))
	before := testutil.ToFloat64(metrics.IssuesReopenedTotal)

	if rr := patchStatus(a, "i1", StatusTodo); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	up := db.update(t)
	if up.args[3].(*time.Time) != nil || up.args[4].(*int) != nil {
		t.Fatalf("resolution not cleared: %v %v", up.args[3], up.args[4])
	}
	if got := testutil.ToFloat64(metrics.IssuesReopenedTotal) - before; got != 1 {
		t.Fatalf("expected reopened counter +1, got %v", got)
	}
}

func TestTransitionSameStatusNoop(t *testing.T) {
	db := &fakeDB{issue: &Issue{ID: "i1", Status: StatusTodo, CreatedAt: at(15, 10, 0)}}
	a := newTestApp(db, at(15, 11, 0))
	if rr := patchStatus(a, "i1", StatusTodo); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(db.execs) != 0 {
		t.Fatalf("expected no writes, got %d", len(db.execs))
	}
}

func TestTransitionErrors(t *testing.T) {
	db := &fakeDB{issue: &Issue{ID: "i1", Status: StatusTodo, CreatedAt: at(15, 10, 0)}}
	a := newTestApp(db, at(15, 11, 0))

	if rr := patchStatus(a, "i1", "archived"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
	if rr := patchStatus(a, "missing", StatusDone); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func getBadge(t *testing.T, a *app.App, id string) (int, Badge) {
	t.Helper()
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/issues/"+id+"/sla", nil))
	var b Badge
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &b); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
	}
	return rr.Code, b
}

func TestSLABadgeAtRisk(t *testing.T) {
	db := &fakeDB{
		issue:  &Issue{ID: "i1", WorkspaceID: "w1", Status: StatusInProgress, Priority: 2, CreatedAt: at(15, 9, 0)},
		policy: &sla.Policy{ID: "p1", WorkspaceID: "w1", Priority: 2, ResponseHours: 2, ResolutionHours: 9},
	}
	a := newTestApp(db, at(15, 16, 12))

	code, b := getBadge(t, a, "i1")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if b.State != sla.AtRisk || b.PercentageUsed != 80 {
		t.Fatalf("unexpected status %+v", b.Status)
	}
	if b.Elapsed != "7h 12m" || b.Remaining != "1h 48m" || b.OverdueBy != "" {
		t.Fatalf("unexpected text %q %q %q", b.Elapsed, b.Remaining, b.OverdueBy)
	}
	if !b.DueAt.Equal(at(15, 18, 0)) {
		t.Fatalf("unexpected due %v", b.DueAt)
	}
	if !b.ClockRunning {
		t.Fatalf("clock should run during business hours")
	}
}

func TestSLABadgeResolvedOverdue(t *testing.T) {
	resolved := at(16, 10, 0)
	db := &fakeDB{
		issue:  &Issue{ID: "i1", WorkspaceID: "w1", Status: StatusDone, Priority: 1, CreatedAt: at(15, 9, 0), ResolvedAt: &resolved},
		policy: &sla.Policy{ID: "p1", WorkspaceID: "w1", Priority: 1, ResolutionHours: 9},
	}
	a := newTestApp(db, at(19, 15, 0))

	code, b := getBadge(t, a, "i1")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if b.State != sla.Overdue || b.ElapsedMinutes != 600 {
		t.Fatalf("unexpected status %+v", b.Status)
	}
	if b.OverdueBy != "1h" || b.Remaining != "" {
		t.Fatalf("unexpected text %q %q", b.OverdueBy, b.Remaining)
	}
	if !b.Resolved || b.ClockRunning {
		t.Fatalf("resolved issue should stop the clock")
	}
}

func TestSLABadgeNoPolicy(t *testing.T) {
	db := &fakeDB{issue: &Issue{ID: "i1", WorkspaceID: "w1", Status: StatusTodo, CreatedAt: at(15, 9, 0)}}
	a := newTestApp(db, at(15, 10, 0))
	if code, _ := getBadge(t, a, "i1"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestGetIssue(t *testing.T) {
	db := &fakeDB{issue: &Issue{ID: "i1", WorkspaceID: "w1", Identifier: "WB-1", Title: "Broken login", Status: StatusTodo, CreatedAt: at(15, 9, 0)}}
	a := newTestApp(db, at(15, 10, 0))
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/issues/i1", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"identifier":"WB-1"`) {
		t.Fatalf("unexpected response %d: %s", rr.Code, rr.Body.String())
	}
}
