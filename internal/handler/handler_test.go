package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/auth"
	"attendflow/internal/journal"
	"attendflow/internal/queue"
	"attendflow/internal/report"
	"attendflow/internal/store"
	"attendflow/internal/worker"
)

type stubBackend struct {
	mu        sync.Mutex
	records   []attendance.Record
	statusErr error
}

func (b *stubBackend) ListStudents(ctx context.Context) ([]attendance.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]attendance.Record(nil), b.records...), nil
}

func (b *stubBackend) UpdateStatus(ctx context.Context, change attendance.StatusChange) (attendance.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statusErr != nil {
		return attendance.Record{}, b.statusErr
	}
	for i, r := range b.records {
		if r.ID == change.ID {
			r.Status, r.Time = change.Status, change.Time
			b.records[i] = r
			return r, nil
		}
	}
	return attendance.Record{}, errors.New("missing")
}

func (b *stubBackend) UpdateStudent(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	return rec, nil
}

func (b *stubBackend) CreateStudent(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec.ID = "new-1"
	b.records = append(b.records, rec)
	return rec, nil
}

type stubDispatcher struct{ bulk int }

func (d *stubDispatcher) NotifyIndividual(ctx context.Context, r attendance.Record) (attendance.Ack, error) {
	return attendance.Ack{Success: true, Message: "SMS Sent Successfully To The Recipient"}, nil
}

func (d *stubDispatcher) NotifyBulk(ctx context.Context, recs []attendance.Record) (attendance.Ack, error) {
	d.bulk++
	return attendance.Ack{Success: true, TotalSent: len(recs)}, nil
}

type stubAuth struct{}

func (stubAuth) Login(ctx context.Context, email, password string) (apiclient.User, error) {
	if password != "pw" {
		return apiclient.User{}, &apiclient.Error{Kind: apiclient.KindRejected, StatusCode: 401, Message: "Invalid credentials"}
	}
	return apiclient.User{ID: "9", Username: "teacher", Email: email, Role: auth.RoleTeacher}, nil
}

func (stubAuth) Register(ctx context.Context, reg apiclient.Registration) (apiclient.User, error) {
	if reg.Email == "taken@x.edu" {
		return apiclient.User{}, &apiclient.Error{Kind: apiclient.KindRejected, StatusCode: 400, Message: "Email already registered"}
	}
	return apiclient.User{ID: "21", Username: reg.Username, Email: reg.Email, Role: reg.Role}, nil
}

func (stubAuth) ForgotPassword(ctx context.Context, email string) (string, error) {
	return "Reset link sent to " + email, nil
}

type stubJournal struct{ filter journal.Filter }

func (j *stubJournal) List(ctx context.Context, f journal.Filter) ([]journal.Entry, error) {
	j.filter = f
	return []journal.Entry{{ID: "e1", RecordID: f.RecordID, Outcome: "committed"}}, nil
}

type env struct {
	router     *gin.Engine
	store      *attendance.Store
	backend    *stubBackend
	dispatcher *stubDispatcher
	queue      *queue.InMemory
	journal    *stubJournal
	signer     *auth.Signer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := &stubBackend{records: []attendance.Record{
		{ID: "1", Name: "Alice Johnson", Roll: "CS001", StudentClass: "Grade 10", Status: attendance.StatusPresent, Time: "09:00 AM", ParentPhoneNumber: "+1555"},
		{ID: "2", Name: "Bob Smith", Roll: "CS002", StudentClass: "Grade 10", Status: attendance.StatusAbsent, Time: "-", ParentPhoneNumber: "+1556"},
		{ID: "3", Name: "Cara Diaz", Roll: "CS003", StudentClass: "Grade 11", Status: attendance.StatusLate, Time: "09:20 AM", ParentPhoneNumber: "UNLINKED"},
	}}
	fixed := time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC)
	st := attendance.NewStore(backend, attendance.WithClock(func() time.Time { return fixed }), attendance.WithLocation(time.UTC))
	dispatcher := &stubDispatcher{}
	q := queue.NewInMemory(8)
	j := &stubJournal{}
	signer := auth.NewSigner("test", "secret", time.Minute, time.Hour)
	exporter := report.New("Test Report", time.UTC)

	h := New(Deps{
		Store:    st,
		Notifier: attendance.NewNotifier(st, dispatcher, nil),
		Auth:     stubAuth{},
		Signer:   signer,
		Exporter: exporter,
		Queue:    q,
		Journal:  j,
		Checks: map[string]store.Pinger{
			"upstream": store.PingFunc(func(context.Context) error { return nil }),
		},
	})
	r := NewRouter(h, RouterOptions{Registry: prometheus.NewRegistry()})
	return &env{router: r, store: st, backend: backend, dispatcher: dispatcher, queue: q, journal: j, signer: signer}
}

func (e *env) token(t *testing.T, role string) string {
	t.Helper()
	pair, err := e.signer.Issue("u-"+role, "", role)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *env) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

type errorResp struct {
	Error APIError `json:"error"`
}

func TestLoginIssuesTokens(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"t@x.edu","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data loginResponse `json:"data"`
	}
	decode(t, w, &resp)
	claims, err := e.signer.Parse(resp.Data.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeacher, claims.Role)
	assert.Equal(t, "9", claims.Subject)

	w = e.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"t@x.edu","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var er errorResp
	decode(t, w, &er)
	assert.Equal(t, "Invalid credentials", er.Error.Message)

	w = e.do(t, http.MethodPost, "/v1/auth/login", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListStudentsLoadsAndFilters(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleStudent)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/students", "", "").Code)

	w := e.do(t, http.MethodGet, "/v1/students", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []attendance.Record `json:"data"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.Data, 3)

	w = e.do(t, http.MethodGet, "/v1/students?query=SMITH&status=absent", tok, "")
	decode(t, w, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "2", resp.Data[0].ID)

	w = e.do(t, http.MethodGet, "/v1/students?status=Excused", tok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetStatusRequiresStaff(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPut, "/v1/students/1/status", e.token(t, auth.RoleStudent), `{"status":"Late"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	tok := e.token(t, auth.RoleTeacher)
	w = e.do(t, http.MethodPut, "/v1/students/1/status", tok, `{"status":"late"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data attendance.Record `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, attendance.StatusLate, resp.Data.Status)
	assert.Equal(t, "09:05 AM", resp.Data.Time)

	w = e.do(t, http.MethodPut, "/v1/students/1/status", tok, `{"status":"Unknown"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/v1/students/nope/status", tok, `{"status":"Present"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetStatusUpstreamFailures(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/students", tok, "").Code)

	e.backend.statusErr = &apiclient.Error{Kind: apiclient.KindTransport, Message: apiclient.UnreachableMessage}
	w := e.do(t, http.MethodPut, "/v1/students/2/status", tok, `{"status":"Present"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	var er errorResp
	decode(t, w, &er)
	assert.Equal(t, "server unreachable", er.Error.Message)

	e.backend.statusErr = &apiclient.Error{Kind: apiclient.KindRejected, StatusCode: 404, Message: "Student not found"}
	w = e.do(t, http.MethodPut, "/v1/students/2/status", tok, `{"status":"Present"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	decode(t, w, &er)
	assert.Equal(t, "upstream_rejected", er.Error.Code)
	assert.Equal(t, "Student not found", er.Error.Message)

	w = e.do(t, http.MethodGet, "/v1/students/2", tok, "")
	var got struct {
		Data attendance.Record `json:"data"`
	}
	decode(t, w, &got)
	assert.Equal(t, attendance.StatusAbsent, got.Data.Status)
}

func TestPatchStudent(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleHOD)

	w := e.do(t, http.MethodPatch, "/v1/students/3", tok, `{"name":"Cara D. Diaz","status":"Absent"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data attendance.Record `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "Cara D. Diaz", resp.Data.Name)
	assert.Equal(t, attendance.NoTime, resp.Data.Time)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPatch, "/v1/students/3", tok, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPatch, "/v1/students/3", tok, `{"status":"Gone"}`).Code)
}

func TestSummaryEndpoints(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleStudent)

	w := e.do(t, http.MethodGet, "/v1/summary", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum struct {
		Data summaryResponse `json:"data"`
	}
	decode(t, w, &sum)
	assert.Equal(t, attendance.Summary{Present: 1, Absent: 1, Late: 1, Total: 3}, sum.Data.Summary)

	w = e.do(t, http.MethodGet, "/v1/summary/classes", tok, "")
	var classes struct {
		Data []attendance.ClassSummary `json:"data"`
	}
	decode(t, w, &classes)
	require.Len(t, classes.Data, 2)
	assert.Equal(t, "Grade 10", classes.Data[0].Class)
}

func TestExport(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleTeacher)

	w := e.do(t, http.MethodGet, "/v1/reports/export?format=csv&status=Absent", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.Equal(t, "Name,Roll Number,Class,Status,Last Sync Time\nBob Smith,CS002,Grade 10,Absent,-\n", w.Body.String())

	w = e.do(t, http.MethodGet, "/v1/reports/export?format=text&type=weekly", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Report Type: Weekly")

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/reports/export?format=xlsx", tok, "").Code)
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleTeacher)

	w := e.do(t, http.MethodPost, "/v1/notifications/absent", tok, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, e.dispatcher.bulk)

	w = e.do(t, http.MethodPost, "/v1/notifications/3", tok, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, http.MethodPost, "/v1/notifications/1", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/v1/notifications/absent?async=true", tok, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		Data struct {
			JobID string `json:"jobId"`
		} `json:"data"`
	}
	decode(t, w, &accepted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs, err := e.queue.Consume(ctx)
	require.NoError(t, err)
	job := <-jobs
	assert.Equal(t, accepted.Data.JobID, job.ID)
	assert.Equal(t, queue.TypeNotifyAbsent, job.Type)
}

func TestJournalRequiresSupervisor(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/v1/journal", e.token(t, auth.RoleTeacher), "").Code)

	w := e.do(t, http.MethodGet, "/v1/journal?record_id=2&limit=5", e.token(t, auth.RoleHOD), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, journal.Filter{RecordID: "2", Limit: 5}, e.journal.filter)
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = e.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "attendflow_http_request_duration_seconds")
}

type signalDispatcher struct {
	individual chan string
	bulk       chan int
}

func (d *signalDispatcher) NotifyIndividual(ctx context.Context, r attendance.Record) (attendance.Ack, error) {
	d.individual <- r.ID
	return attendance.Ack{Success: true}, nil
}

func (d *signalDispatcher) NotifyBulk(ctx context.Context, recs []attendance.Record) (attendance.Ack, error) {
	d.bulk <- len(recs)
	return attendance.Ack{Success: true, TotalSent: len(recs)}, nil
}

func TestAsyncNotificationsAreDeliveredByInProcessWorker(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, auth.RoleTeacher)

	d := &signalDispatcher{individual: make(chan string, 1), bulk: make(chan int, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = worker.New(e.store, attendance.NewNotifier(e.store, d, nil), nil).Run(ctx, e.queue)
	}()

	w := e.do(t, http.MethodPost, "/v1/notifications/absent?async=true", tok, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	select {
	case n := <-d.bulk:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("absent notification was not delivered")
	}

	w = e.do(t, http.MethodPost, "/v1/notifications/1?async=true", tok, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	select {
	case id := <-d.individual:
		assert.Equal(t, "1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("record notification was not delivered")
	}

	// More jobs than the queue holds still go through once a consumer runs.
	for i := 0; i < 12; i++ {
		w = e.do(t, http.MethodPost, "/v1/notifications/absent?async=true", tok, "")
		require.Equal(t, http.StatusAccepted, w.Code)
		select {
		case <-d.bulk:
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d was not delivered", i)
		}
	}
}

func TestRegisterSignsInNewUser(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/auth/register", "", `{"username":"dev","email":"d@x.edu","password":"secret","role":"student"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data loginResponse `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, auth.RoleStudent, resp.Data.User.Role)
	claims, err := e.signer.Parse(resp.Data.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "21", claims.Subject)

	w = e.do(t, http.MethodPost, "/v1/auth/register", "", `{"username":"dev","email":"taken@x.edu","password":"secret","role":"STUDENT"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var er errorResp
	decode(t, w, &er)
	assert.Equal(t, "Email already registered", er.Error.Message)

	w = e.do(t, http.MethodPost, "/v1/auth/register", "", `{"username":"dev","email":"d@x.edu","password":"secret","role":"janitor"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForgotPassword(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/auth/forgot-password", "", `{"email":"a@x.edu"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Reset link sent to a@x.edu")

	w = e.do(t, http.MethodPost, "/v1/auth/forgot-password", "", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateStudent(t *testing.T) {
	e := newEnv(t)
	body := `{"name":"Dev Patel","roll":"CS004","studentClass":"Grade 11"}`

	w := e.do(t, http.MethodPost, "/v1/students", e.token(t, auth.RoleStudent), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	tok := e.token(t, auth.RoleTeacher)
	w = e.do(t, http.MethodPost, "/v1/students", tok, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data attendance.Record `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "new-1", resp.Data.ID)
	assert.Equal(t, attendance.StatusUnknown, resp.Data.Status)

	w = e.do(t, http.MethodGet, "/v1/students/new-1", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/v1/students", tok, `{"roll":"CS005"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
