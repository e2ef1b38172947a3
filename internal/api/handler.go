package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/filelock"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
	"github.com/QrCommunication/claudenest/internal/presence"
	"github.com/QrCommunication/claudenest/internal/session"
	"github.com/QrCommunication/claudenest/internal/store"
	"github.com/QrCommunication/claudenest/internal/taskcoord"
)

// InstanceHeader carries the caller's instance identity.
const InstanceHeader = "X-Claudenest-Instance"

// Handler serves the collaborator API.
type Handler struct {
	store    store.Store
	tasks    *taskcoord.Coordinator
	locks    *filelock.Manager
	sessions *session.Broker
	presence *presence.Monitor
	log      *logging.Logger
}

// NewHandler builds the HTTP handler over the engine components.
func NewHandler(st store.Store, tasks *taskcoord.Coordinator, locks *filelock.Manager, sessions *session.Broker, pres *presence.Monitor, log *logging.Logger) http.Handler {
	if log == nil {
		log = logging.NopLogger()
	}
	h := &Handler{
		store:    st,
		tasks:    tasks,
		locks:    locks,
		sessions: sessions,
		presence: pres,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)

	mux.HandleFunc("POST /projects", h.handleCreateProject)
	mux.HandleFunc("GET /projects/{id}/status", h.handleProjectStatus)
	mux.HandleFunc("GET /projects/{id}/locks", h.handleListLocks)

	mux.HandleFunc("POST /tasks", h.handleEnqueueTask)
	mux.HandleFunc("POST /tasks/claim-next", h.handleClaimNext)
	mux.HandleFunc("POST /tasks/{id}/release", h.handleReleaseTask)
	mux.HandleFunc("POST /tasks/{id}/complete", h.handleCompleteTask)
	mux.HandleFunc("POST /tasks/{id}/fail", h.handleFailTask)

	mux.HandleFunc("POST /locks", h.handleAcquireLock)
	mux.HandleFunc("POST /locks/{id}/extend", h.handleExtendLock)
	mux.HandleFunc("POST /locks/{id}/release", h.handleReleaseLock)

	mux.HandleFunc("POST /machines", h.handleRegisterMachine)
	mux.HandleFunc("POST /machines/{id}/heartbeat", h.handleMachineHeartbeat)

	mux.HandleFunc("POST /instances", h.handleRegisterInstance)
	mux.HandleFunc("POST /instances/{id}/heartbeat", h.handleInstanceHeartbeat)
	mux.HandleFunc("POST /instances/{id}/disconnect", h.handleDisconnectInstance)

	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/activate", h.handleActivateSession)
	mux.HandleFunc("POST /sessions/{id}/resize", h.handleResizeSession)
	mux.HandleFunc("POST /sessions/{id}/terminate", h.handleTerminateSession)
	mux.HandleFunc("POST /sessions/{id}/input", h.handleSessionInput)
	mux.HandleFunc("POST /sessions/{id}/chunks", h.handlePushChunk)
	mux.HandleFunc("GET /sessions/{id}/chunks", h.handlePullChunks)
	mux.HandleFunc("GET /sessions/{id}/scrollback", h.handleScrollback)

	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.VerifyAtomicity(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "store atomicity check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- Projects ----

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner    string `json:"owner"`
		Name     string `json:"name"`
		RootPath string `json:"root_path"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "owner and name required")
		return
	}

	p := &models.Project{Owner: req.Owner, Name: req.Name, RootPath: req.RootPath}
	if err := h.store.CreateProject(r.Context(), p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectJSON(p))
}

func (h *Handler) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	if _, err := h.store.GetProject(ctx, projectID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	counts, err := h.tasks.Counts(ctx, projectID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	locks, err := h.locks.List(ctx, projectID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	instances, err := h.store.ListProjectInstances(ctx, projectID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	taskCounts := make(map[string]int, len(counts))
	for status, n := range counts {
		taskCounts[string(status)] = n
	}
	instanceViews := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		instanceViews = append(instanceViews, map[string]any{
			"id":             inst.ID,
			"machine_id":     inst.MachineID,
			"status":         string(inst.Status),
			"last_heartbeat": inst.LastHeartbeat.UTC().Format(time.RFC3339Nano),
		})
	}
	lockViews := make([]map[string]any, 0, len(locks))
	for _, lock := range locks {
		lockViews = append(lockViews, lockJSON(lock))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"tasks":      taskCounts,
		"locks":      lockViews,
		"instances":  instanceViews,
	})
}

func (h *Handler) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.locks.List(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(locks))
	for _, lock := range locks {
		views = append(views, lockJSON(lock))
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": views})
}

// ---- Tasks ----

func (h *Handler) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		Title     string `json:"title"`
		Payload   string `json:"payload"`
	}
	if !decode(w, r, &req) {
		return
	}

	task, err := h.tasks.Enqueue(r.Context(), &models.Task{
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Payload:   req.Payload,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskJSON(task))
}

func (h *Handler) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Header.Get(InstanceHeader)
	var req struct {
		ProjectID string `json:"project_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	task, err := h.tasks.ClaimNext(r.Context(), req.ProjectID, instanceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if task == nil {
		// Empty queue is a normal outcome, not an error.
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskJSON(task)})
}

func (h *Handler) handleReleaseTask(w http.ResponseWriter, r *http.Request) {
	err := h.tasks.Release(r.Context(), r.PathValue("id"), r.Header.Get(InstanceHeader))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	err := h.tasks.Complete(r.Context(), r.PathValue("id"), r.Header.Get(InstanceHeader))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) handleFailTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := h.tasks.Fail(r.Context(), r.PathValue("id"), r.Header.Get(InstanceHeader), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

// ---- Locks ----

func (h *Handler) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Header.Get(InstanceHeader)
	var req struct {
		ProjectID  string `json:"project_id"`
		Path       string `json:"path"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if !decode(w, r, &req) {
		return
	}

	lock, err := h.locks.Acquire(r.Context(), req.ProjectID, req.Path, instanceID,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lockJSON(lock))
}

func (h *Handler) handleExtendLock(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Header.Get(InstanceHeader)
	var req struct {
		TTLSeconds int `json:"ttl_seconds"`
	}
	if !decode(w, r, &req) {
		return
	}

	lock, err := h.locks.Extend(r.Context(), r.PathValue("id"), instanceID,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lockJSON(lock))
}

func (h *Handler) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Header.Get(InstanceHeader)
	var req struct {
		Force bool `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := h.locks.Release(r.Context(), r.PathValue("id"), instanceID, req.Force); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// ---- Machines & instances ----

func (h *Handler) handleRegisterMachine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string   `json:"owner"`
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities"`
		MaxSessions  int      `json:"max_sessions"`
	}
	if !decode(w, r, &req) {
		return
	}

	machine, err := h.presence.RegisterMachine(r.Context(), &models.Machine{
		Owner:        req.Owner,
		Name:         req.Name,
		Capabilities: req.Capabilities,
		MaxSessions:  req.MaxSessions,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     machine.ID,
		"status": string(machine.Status),
	})
}

func (h *Handler) handleMachineHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.presence.HeartbeatMachine(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRegisterInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID string `json:"machine_id"`
		ProjectID string `json:"project_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	inst, err := h.presence.RegisterInstance(r.Context(), &models.Instance{
		MachineID: req.MachineID,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     inst.ID,
		"status": string(inst.Status),
	})
}

func (h *Handler) handleInstanceHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.presence.HeartbeatInstance(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDisconnectInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.presence.DisconnectInstance(r.Context(), r.PathValue("id"), req.Force); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// ---- Sessions ----

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID    string `json:"machine_id"`
		ProjectID    string `json:"project_id"`
		Mode         string `json:"mode"`
		WorkingDir   string `json:"working_dir"`
		Rows         int    `json:"rows"`
		Cols         int    `json:"cols"`
		InitialInput string `json:"initial_input"` // base64
	}
	if !decode(w, r, &req) {
		return
	}

	var input []byte
	if req.InitialInput != "" {
		var err error
		input, err = base64.StdEncoding.DecodeString(req.InitialInput)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "initial_input is not valid base64")
			return
		}
	}

	sess, err := h.sessions.Create(r.Context(), req.MachineID, req.ProjectID,
		req.Mode, req.WorkingDir, models.Geometry{Rows: req.Rows, Cols: req.Cols}, input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(sess))
}

func (h *Handler) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(sess))
}

func (h *Handler) handleResizeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rows int `json:"rows"`
		Cols int `json:"cols"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := h.sessions.Resize(r.Context(), r.PathValue("id"), models.Geometry{Rows: req.Rows, Cols: req.Cols})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resized"})
}

func (h *Handler) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.sessions.Terminate(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"` // base64
	}
	if !decode(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "data is not valid base64")
		return
	}
	if err := h.sessions.Input(r.Context(), r.PathValue("id"), data); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *Handler) handlePushChunk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"` // base64
	}
	if !decode(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "data is not valid base64")
		return
	}

	seq, err := h.sessions.PushChunk(r.Context(), r.PathValue("id"), data)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seq": seq})
}

func (h *Handler) handlePullChunks(w http.ResponseWriter, r *http.Request) {
	afterSeq, err := parseUintParam(r, "after_seq")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "after_seq must be a non-negative integer")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	chunks, err := h.sessions.PullChunks(r.Context(), r.PathValue("id"), afterSeq, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunkViews(chunks)})
}

func (h *Handler) handleScrollback(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.sessions.Scrollback(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, map[string]any{
			"seq":  c.Seq,
			"data": base64.StdEncoding.EncodeToString(c.Data),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": views})
}

// ---- Serialization ----

func projectJSON(p *models.Project) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"owner":     p.Owner,
		"name":      p.Name,
		"root_path": p.RootPath,
	}
}

func taskJSON(t *models.Task) map[string]any {
	v := map[string]any{
		"id":         t.ID,
		"project_id": t.ProjectID,
		"title":      t.Title,
		"payload":    t.Payload,
		"status":     string(t.Status),
		"claimed_by": t.ClaimedBy,
		"failure":    t.Failure,
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.ClaimedAt != nil {
		v["claimed_at"] = t.ClaimedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func lockJSON(l *models.FileLock) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"project_id":  l.ProjectID,
		"path":        l.Path,
		"holder_id":   l.HolderID,
		"acquired_at": l.AcquiredAt.UTC().Format(time.RFC3339Nano),
		"expires_at":  l.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func sessionJSON(s *models.Session) map[string]any {
	return map[string]any{
		"id":          s.ID,
		"machine_id":  s.MachineID,
		"project_id":  s.ProjectID,
		"mode":        s.Mode,
		"working_dir": s.WorkingDir,
		"rows":        s.Geometry.Rows,
		"cols":        s.Geometry.Cols,
		"status":      string(s.Status),
	}
}

func chunkViews(chunks []*models.OutputChunk) []map[string]any {
	views := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, map[string]any{
			"seq":  c.Seq,
			"data": base64.StdEncoding.EncodeToString(c.Data),
		})
	}
	return views
}

// ---- Plumbing ----

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return false
	}
	return true
}

func parseUintParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// writeDomainError maps the engine's error taxonomy to status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrConflict):
		status = http.StatusConflict
	case apperrors.Is(err, apperrors.ErrNotHolder):
		status = http.StatusForbidden
	case apperrors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrCapacityExceeded):
		status = http.StatusTooManyRequests
	case apperrors.Is(err, apperrors.ErrMachineOffline):
		status = http.StatusServiceUnavailable
	case apperrors.Is(err, apperrors.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	default:
		h.log.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	body := map[string]any{"error": err.Error()}
	var conflict *apperrors.ConflictError
	if apperrors.As(err, &conflict) {
		body["holder"] = conflict.Holder
		body["expires_at"] = conflict.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
