package handler

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/auth"
	"attendflow/internal/journal"
	"attendflow/internal/queue"
	"attendflow/internal/report"
	"attendflow/internal/store"
)

// Authenticator checks credentials against the attendance backend.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (apiclient.User, error)
	Register(ctx context.Context, reg apiclient.Registration) (apiclient.User, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
}

// JournalReader lists recorded mutation outcomes.
type JournalReader interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
}

// Deps are the collaborators of Handler. Queue, Journal and Checks are optional.
type Deps struct {
	Store    *attendance.Store
	Notifier *attendance.Notifier
	Auth     Authenticator
	Signer   *auth.Signer
	Exporter *report.Exporter
	Queue    queue.Queue
	Journal  JournalReader
	Checks   map[string]store.Pinger
	Log      *zap.Logger
}

type Handler struct {
	store    *attendance.Store
	notifier *attendance.Notifier
	auth     Authenticator
	signer   *auth.Signer
	exporter *report.Exporter
	queue    queue.Queue
	journal  JournalReader
	checks   map[string]store.Pinger
	log      *zap.Logger
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{
		store:    d.Store,
		notifier: d.Notifier,
		auth:     d.Auth,
		signer:   d.Signer,
		exporter: d.Exporter,
		queue:    d.Queue,
		journal:  d.Journal,
		checks:   d.Checks,
		log:      d.Log,
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "loaded": h.store.Loaded(), "records": h.store.Len()})
}

// ---------- Auth ----------

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	User   apiclient.User `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

// Login checks credentials with the backend and issues a token pair carrying
// the backend's role.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if apiclient.IsRejected(err) {
			fail(c, http.StatusUnauthorized, "invalid_credentials", apiclient.MessageOf(err))
			return
		}
		respondError(c, err)
		return
	}
	pair, err := h.signer.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("login", zap.String("user_id", user.ID), zap.String("role", user.Role))
	c.JSON(http.StatusOK, gin.H{"data": loginResponse{User: user, Tokens: pair}})
}

type registerRequest struct {
	Username    string `json:"username" binding:"required,max=80"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=4"`
	Role        string `json:"role" binding:"required"`
	RollNumber  string `json:"rollNumber"`
	PhoneNumber string `json:"phoneNumber"`
}

var registrableRoles = []string{auth.RoleAdmin, auth.RoleHOD, auth.RoleTeacher, auth.RoleStudent}

// Register creates the account on the backend and signs the new user in.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if !slices.Contains(registrableRoles, role) {
		fail(c, http.StatusBadRequest, "invalid_input", "unknown role: "+req.Role)
		return
	}
	user, err := h.auth.Register(c.Request.Context(), apiclient.Registration{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		Role:        role,
		RollNumber:  req.RollNumber,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	pair, err := h.signer.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	c.JSON(http.StatusCreated, gin.H{"data": loginResponse{User: user, Tokens: pair}})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	msg, err := h.auth.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"message": msg}})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	pair, err := h.signer.Refresh(req.RefreshToken)
	if err != nil {
		fail(c, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pair})
}

// ---------- Students ----------

func (h *Handler) ensureLoaded(ctx context.Context) error {
	if h.store.Loaded() {
		return nil
	}
	_, err := h.store.Load(ctx)
	return err
}

func (h *Handler) ListStudents(c *gin.Context) {
	status, err := attendance.ParseFilter(c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	records := slices.Collect(h.store.Query(c.Query("query"), status))
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "meta": gin.H{"count": len(records)}})
}

func (h *Handler) Reload(c *gin.Context) {
	records, err := h.store.Load(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "meta": gin.H{"count": len(records)}})
}

func (h *Handler) GetStudent(c *gin.Context) {
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	rec, ok := h.store.Get(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "not_found", "record not found: "+c.Param("id"))
		return
	}
	resp := gin.H{"data": rec}
	if pending, ok := h.store.Pending(rec.ID); ok {
		resp["pending"] = pending
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var draft attendance.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.store.Add(c.Request.Context(), draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.store.SetStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var patch attendance.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if patch.Empty() {
		fail(c, http.StatusBadRequest, "invalid_input", "no fields to update")
		return
	}
	rec, err := h.store.UpdateFields(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// ---------- Summary & reports ----------

type summaryResponse struct {
	attendance.Summary
	Rate float64 `json:"presentRate"`
}

func (h *Handler) Summary(c *gin.Context) {
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	sum := h.store.Aggregate()
	c.JSON(http.StatusOK, gin.H{"data": summaryResponse{Summary: sum, Rate: sum.PresentRate()}})
}

func (h *Handler) ClassSummary(c *gin.Context) {
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	classes := h.store.AggregateByClass()
	if classes == nil {
		classes = []attendance.ClassSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"data": classes})
}

func (h *Handler) Export(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}
	kind, err := report.ParseKind(c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := attendance.ParseFilter(c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	records := slices.Collect(h.store.Query(c.Query("query"), status))
	body, err := h.exporter.Render(format, records, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+h.exporter.Filename(format, kind)+`"`)
	c.Data(http.StatusOK, format.ContentType(), body)
}

// ---------- Notifications ----------

func wantsAsync(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("async"))
	return v
}

func (h *Handler) enqueue(c *gin.Context, jobType string, payload any) {
	job, err := queue.NewJob(jobType, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.queue.Publish(c.Request.Context(), job); err != nil {
		h.log.Error("enqueue failed", zap.String("type", jobType), zap.Error(err))
		fail(c, http.StatusServiceUnavailable, "queue_unavailable", "could not queue notification")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"jobId": job.ID, "type": job.Type}})
}

func (h *Handler) NotifyRecord(c *gin.Context) {
	id := c.Param("id")
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	if wantsAsync(c) && h.queue != nil {
		if _, ok := h.store.Get(id); !ok {
			fail(c, http.StatusNotFound, "not_found", "record not found: "+id)
			return
		}
		h.enqueue(c, queue.TypeNotifyRecord, queue.RecordPayload{RecordID: id})
		return
	}
	ack, err := h.notifier.NotifyRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ack})
}

func (h *Handler) NotifyAbsent(c *gin.Context) {
	if err := h.ensureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	if wantsAsync(c) && h.queue != nil {
		h.enqueue(c, queue.TypeNotifyAbsent, nil)
		return
	}
	ack, err := h.notifier.NotifyAbsent(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ack})
}

// ---------- Journal ----------

func (h *Handler) Journal(c *gin.Context) {
	if h.journal == nil {
		fail(c, http.StatusServiceUnavailable, "journal_disabled", "mutation journal is not enabled")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.journal.List(c.Request.Context(), journal.Filter{
		RecordID: strings.TrimSpace(c.Query("record_id")),
		Outcome:  strings.TrimSpace(c.Query("outcome")),
		Limit:    limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
