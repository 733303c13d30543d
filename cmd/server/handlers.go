package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"absensi/internal/admin"
	"absensi/internal/attendance"
	"absensi/internal/auth"
	"absensi/internal/config"
	"absensi/internal/export"
	"absensi/internal/leave"
	"absensi/internal/notify"
	"absensi/internal/settings"
)

var checkinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "absensi_checkins_total",
	Help: "Check-in attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(checkinsTotal)
}

// api bundles the services the handlers depend on.
type api struct {
	cfg      config.App
	engine   *attendance.Engine
	leaves   *leave.Workflow
	admin    *admin.Service
	settings *settings.Resolver
	events   notify.Sink
}

func (a *api) register(r *gin.Engine, loginLimiter gin.HandlerFunc) {
	r.POST("/v1/setup", a.setup)
	r.POST("/v1/login", loginLimiter, a.login)
	r.POST("/v1/refresh", a.refresh)
	r.POST("/v1/checkins", a.checkIn)
	r.POST("/v1/leaves", a.submitLeave)

	anyRole := auth.RequireRole(a.cfg.JWTSigningKey, a.cfg.JWTIssuer)
	staff := auth.RequireRole(a.cfg.JWTSigningKey, a.cfg.JWTIssuer,
		string(admin.RoleAdmin), string(admin.RoleSuperAdmin))
	super := auth.RequireRole(a.cfg.JWTSigningKey, a.cfg.JWTIssuer,
		string(admin.RoleSuperAdmin))

	r.GET("/v1/stats/today", anyRole, a.statsToday)
	r.GET("/v1/attendance/today", anyRole, a.attendanceToday)
	r.GET("/v1/students", anyRole, a.listStudents)
	r.POST("/v1/password", anyRole, a.changePassword)

	r.POST("/v1/students", staff, a.addStudent)
	r.DELETE("/v1/students/:id", staff, a.deleteStudent)
	r.GET("/v1/students/:id/qr.png", staff, a.studentQR)
	r.GET("/v1/leaves", staff, a.listLeaves)
	r.POST("/v1/leaves/:id/approve", staff, a.approveLeave)
	r.POST("/v1/leaves/:id/reject", staff, a.rejectLeave)
	r.GET("/v1/export/attendance.csv", staff, a.exportCSV)
	r.GET("/v1/export/attendance.xlsx", staff, a.exportExcel)

	r.GET("/v1/users", super, a.listUsers)
	r.POST("/v1/users", super, a.addUser)
	r.DELETE("/v1/users/:username", super, a.deleteUser)
	r.PUT("/v1/users/:username/role", super, a.changeRole)
	r.GET("/v1/settings", super, a.getSettings)
	r.PUT("/v1/settings", super, a.putSettings)
	r.POST("/v1/notify/test", super, a.notifyTest)
	r.POST("/v1/notify/absent", super, a.notifyAbsent)
}

func (a *api) setup(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := a.admin.Setup(req.Username, req.Password, time.Now())
	switch {
	case errors.Is(err, admin.ErrAlreadySetUp):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"username": req.Username, "role": admin.RoleSuperAdmin})
	}
}

func (a *api) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, found, err := a.admin.FindUser(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	hasher := auth.Bcrypt{}
	// Same rejection for unknown user and wrong password.
	if !found || !hasher.Verify(user.Password, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	a.issueTokens(c, user.Username, string(user.Role))
}

func (a *api) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, a.cfg.JWTSigningKey, a.cfg.JWTIssuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	// The account may have been deleted or demoted since the token was issued.
	user, found, err := a.admin.FindUser(claims.Username)
	if err != nil || !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	a.issueTokens(c, user.Username, string(user.Role))
}

func (a *api) issueTokens(c *gin.Context, username, role string) {
	pair, err := auth.Issue(username, role, a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Unix(),
		"role":          role,
	})
}

func (a *api) checkIn(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := a.engine.CheckIn(req.StudentID, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
		return
	}
	checkinsTotal.WithLabelValues(string(res.Outcome)).Inc()

	switch res.Outcome {
	case attendance.OutcomeEmptyID:
		c.JSON(http.StatusBadRequest, gin.H{"error": "student id is required"})
	case attendance.OutcomeUnknownStudent:
		c.JSON(http.StatusNotFound, gin.H{"error": "student id not registered"})
	case attendance.OutcomeOutsideWindow:
		win := a.settings.Window()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "outside attendance window",
			"window": fmt.Sprintf("%s - %s", win.Start, win.End),
		})
	case attendance.OutcomeAlreadyRecorded:
		c.JSON(http.StatusConflict, gin.H{"error": "already checked in today", "student": res.Student.Name})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"student_id": res.Student.ID,
			"name":       res.Student.Name,
			"status":     res.Status,
		})
	}
}

func (a *api) submitLeave(c *gin.Context) {
	if !a.settings.Current().EnableLeave {
		c.JSON(http.StatusForbidden, gin.H{"error": "leave requests are disabled"})
		return
	}
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		Type      string `json:"type" binding:"required"`
		Reason    string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lr, err := a.leaves.Submit(req.StudentID, leave.Type(req.Type), req.Reason, time.Now())
	switch {
	case errors.Is(err, leave.ErrUnknownStudent):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, lr)
	}
}

func (a *api) listLeaves(c *gin.Context) {
	var (
		out []leave.Request
		err error
	)
	if s := c.Query("status"); s != "" {
		out, err = a.leaves.ByStatus(leave.Status(s))
	} else {
		out, err = a.leaves.All()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if out == nil {
		out = []leave.Request{}
	}
	c.JSON(http.StatusOK, gin.H{"leaves": out})
}

func (a *api) approveLeave(c *gin.Context) {
	a.resolveLeave(c, a.leaves.Approve)
}

func (a *api) rejectLeave(c *gin.Context) {
	a.resolveLeave(c, a.leaves.Reject)
}

func (a *api) resolveLeave(c *gin.Context, fn func(id, actor string, now time.Time) error) {
	actor := auth.ClaimsFrom(c).Username
	err := fn(c.Param("id"), actor, time.Now())
	switch {
	case errors.Is(err, leave.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, leave.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *api) statsToday(c *gin.Context) {
	st, err := a.engine.TodayStats(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (a *api) attendanceToday(c *gin.Context) {
	day, err := a.engine.TodayRecords(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": day})
}

func (a *api) listStudents(c *gin.Context) {
	students, err := a.admin.Students()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if students == nil {
		students = []attendance.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (a *api) addStudent(c *gin.Context) {
	var req struct {
		ID    string `json:"id" binding:"required"`
		Name  string `json:"name" binding:"required"`
		Class string `json:"class"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := a.admin.AddStudent(req.ID, req.Name, req.Class)
	switch {
	case errors.Is(err, admin.ErrDuplicateID):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"id": req.ID})
	}
}

func (a *api) deleteStudent(c *gin.Context) {
	err := a.admin.DeleteStudent(c.Param("id"))
	switch {
	case errors.Is(err, admin.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *api) studentQR(c *gin.Context) {
	if !a.settings.Current().EnableQR {
		c.JSON(http.StatusForbidden, gin.H{"error": "qr codes are disabled"})
		return
	}
	id := c.Param("id")
	students, err := a.admin.Students()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	known := false
	for _, s := range students {
		if s.ID == id {
			known = true
			break
		}
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "student id not registered"})
		return
	}
	png, err := export.QRPNG(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (a *api) exportCSV(c *gin.Context) {
	book, err := a.engine.Ledger()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out, err := export.CSV(book)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := "attendance_" + time.Now().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv", out)
}

func (a *api) exportExcel(c *gin.Context) {
	book, err := a.engine.Ledger()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out, err := export.Excel(book)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := "attendance_" + time.Now().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", out)
}

func (a *api) listUsers(c *gin.Context) {
	users, err := a.admin.Users()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Hashes stay server-side.
	type userView struct {
		Username  string     `json:"username"`
		Role      admin.Role `json:"role"`
		CreatedAt string     `json:"created_at"`
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (a *api) addUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := a.admin.AddUser(req.Username, req.Password, admin.Role(req.Role), time.Now())
	switch {
	case errors.Is(err, admin.ErrDuplicateUsername):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"username": req.Username, "role": req.Role})
	}
}

func (a *api) deleteUser(c *gin.Context) {
	actor := auth.ClaimsFrom(c).Username
	err := a.admin.DeleteUser(c.Param("username"), actor)
	switch {
	case errors.Is(err, admin.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrSelfTarget), errors.Is(err, admin.ErrLastSuperAdmin):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *api) changeRole(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := auth.ClaimsFrom(c).Username
	err := a.admin.ChangeRole(c.Param("username"), admin.Role(req.Role), actor)
	switch {
	case errors.Is(err, admin.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrSelfTarget), errors.Is(err, admin.ErrLastSuperAdmin):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *api) changePassword(c *gin.Context) {
	var req struct {
		Current string `json:"current_password" binding:"required"`
		New     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := auth.ClaimsFrom(c).Username
	err := a.admin.ChangePassword(actor, req.Current, req.New)
	switch {
	case errors.Is(err, admin.ErrWrongPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *api) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, a.settings.Current())
}

func (a *api) putSettings(c *gin.Context) {
	// The body is read fully before the settings lock is taken so a slow
	// client cannot hold it.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	probe := settings.Defaults()
	if err := json.Unmarshal(body, &probe); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings document"})
		return
	}
	err = a.settings.Update(func(s *settings.Settings) {
		_ = json.Unmarshal(body, s)
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a.settings.Current())
}

func (a *api) notifyTest(c *gin.Context) {
	cfg := a.settings.Current()
	if !cfg.TelegramEnabled || cfg.TelegramBotToken == "" || cfg.TelegramAdminChatID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "telegram bot not configured"})
		return
	}
	a.events.Publish(notify.Event{
		Kind: notify.KindTest,
		Time: time.Now().Format(attendance.TimeLayout),
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (a *api) notifyAbsent(c *gin.Context) {
	summary, err := a.engine.AbsenteeSummary(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"status": "no absentees"})
		return
	}
	a.events.Publish(*summary)
	log.Printf("absentee summary queued: %d absent", len(summary.Absent))
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "absent": len(summary.Absent)})
}
