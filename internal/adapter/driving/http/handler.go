package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/application"
	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// defaultActivityLimit caps the activity endpoint when no limit is given.
const defaultActivityLimit = 100

// Handler is the HTTP driving adapter that serves the local control API.
type Handler struct {
	orch     *application.Orchestrator
	accounts *application.AccountService
	clock    *application.Clock
	status   *application.Status
	activity driven.ActivityStore
	updates  *application.UpdateService
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. activity and
// updates may be nil, in which case their endpoints report empty results and
// 404 respectively.
func NewHandler(
	orch *application.Orchestrator,
	accounts *application.AccountService,
	clock *application.Clock,
	status *application.Status,
	activity driven.ActivityStore,
	updates *application.UpdateService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		orch:     orch,
		accounts: accounts,
		clock:    clock,
		status:   status,
		activity: activity,
		updates:  updates,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", h.AddAccount)
	mux.HandleFunc("DELETE /api/v1/accounts/{name}", h.RemoveAccount)
	mux.HandleFunc("POST /api/v1/accounts/{name}/select", h.SelectAccount)
	mux.HandleFunc("POST /api/v1/accounts/{name}/move", h.MoveAccount)
	mux.HandleFunc("POST /api/v1/accounts/{name}/refresh", h.RefreshAccount)

	mux.HandleFunc("GET /api/v1/code", h.GetCode)
	mux.HandleFunc("POST /api/v1/unlock", h.Unlock)
	mux.HandleFunc("PUT /api/v1/passkey", h.ChangePasskey)

	mux.HandleFunc("GET /api/v1/confirmations", h.ListConfirmations)
	mux.HandleFunc("POST /api/v1/confirmations/check", h.CheckConfirmations)
	mux.HandleFunc("POST /api/v1/confirmations/respond", h.RespondConfirmation)
	mux.HandleFunc("POST /api/v1/confirmations/{batch}/ack", h.AcknowledgeBatch)

	mux.HandleFunc("GET /api/v1/status", h.GetStatus)
	mux.HandleFunc("GET /api/v1/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/v1/settings", h.PutSettings)
	mux.HandleFunc("GET /api/v1/activity", h.ListActivity)
	mux.HandleFunc("GET /api/v1/update", h.CheckUpdate)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// serviceError writes the mapped status for known errors and logs the rest
// as internal failures.
func (h *Handler) serviceError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	if status := statusFor(err); status != 0 {
		writeError(w, status, err.Error())
		return
	}
	h.logger.Error(msg, append(attrs, "error", err)...)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
		Locked: h.accounts.Locked(),
	})
}

// ListAccounts returns the accounts matching the q filter in manifest order.
// A q starting with "~" is a regular expression.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	sel := h.orch.Selection()
	visible := sel.Filter(r.URL.Query().Get("q"))
	active := sel.Active()
	m := h.accounts.Manifest()

	resp := AccountListResponse{
		Accounts:    make([]AccountResponse, 0, len(visible)),
		Active:      active,
		ActiveIndex: sel.Index(),
		Locked:      h.accounts.Locked(),
		Encrypted:   m.Encrypted,
	}
	for _, name := range visible {
		st := h.status.Get(name)
		resp.Accounts = append(resp.Accounts, AccountResponse{
			Name:         name,
			Position:     h.accounts.IndexOf(name),
			Active:       name == active,
			SessionValid: st.SessionValid,
			LastError:    st.LastError,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddAccount imports a credential document as a new account.
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req AddAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Kind == "" || len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "name, kind and payload are required")
		return
	}

	entry := model.AccountEntry{Name: req.Name, Kind: req.Kind, Payload: req.Payload}
	if err := h.accounts.Add(r.Context(), entry); err != nil {
		h.serviceError(w, "failed to add account", err, "account", req.Name)
		return
	}

	writeJSON(w, http.StatusCreated, AccountResponse{
		Name:         req.Name,
		Position:     h.accounts.IndexOf(req.Name),
		Active:       h.orch.Selection().Active() == req.Name,
		SessionValid: true,
	})
}

// RemoveAccount deletes an account. A non-zero scheme also removes the remote
// authenticator and requires the account's current code.
func (h *Handler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()

	scheme := model.DeactivateNone
	if raw := q.Get("scheme"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !model.DeactivationScheme(n).Valid() {
			writeError(w, http.StatusBadRequest, "invalid deactivation scheme")
			return
		}
		scheme = model.DeactivationScheme(n)
	}

	if scheme != model.DeactivateNone {
		if err := h.accounts.VerifyDeactivation(name, q.Get("code")); err != nil {
			h.serviceError(w, "failed to verify deactivation", err, "account", name)
			return
		}
	}

	if err := h.accounts.Remove(r.Context(), name, scheme); err != nil {
		h.serviceError(w, "failed to remove account", err, "account", name)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SelectAccount makes the named account active.
func (h *Handler) SelectAccount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.orch.Select(name); err != nil {
		h.serviceError(w, "failed to select account", err, "account", name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveAccount relocates the named account to a new manifest position.
func (h *Handler) MoveAccount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req MoveAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	from := h.accounts.IndexOf(name)
	if from < 0 {
		writeError(w, http.StatusNotFound, driven.ErrAccountNotFound.Error())
		return
	}

	moved, err := h.accounts.Move(r.Context(), from, req.To)
	if err != nil {
		h.serviceError(w, "failed to move account", err, "account", name)
		return
	}

	writeJSON(w, http.StatusOK, MoveAccountResponse{Moved: moved})
}

// RefreshAccount forces a session refresh for the named account.
func (h *Handler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.orch.Refresh(r.Context(), name); err != nil {
		h.serviceError(w, "failed to refresh session", err, "account", name)
		return
	}
	writeJSON(w, http.StatusOK, toAccountStatusResponse(h.status.Get(name)))
}

// GetCode generates the active account's current code.
func (h *Handler) GetCode(w http.ResponseWriter, _ *http.Request) {
	update, err := h.orch.Code()
	if err != nil {
		h.serviceError(w, "failed to generate code", err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeResponse(update))
}

// Unlock decrypts an encrypted manifest.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.orch.Unlock(r.Context(), req.Passkey); err != nil {
		h.serviceError(w, "failed to unlock manifest", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePasskey sets, changes or removes the manifest passkey.
func (h *Handler) ChangePasskey(w http.ResponseWriter, r *http.Request) {
	var req ChangePasskeyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.accounts.ChangePasskey(r.Context(), req.Old, req.New, req.Confirm); err != nil {
		h.serviceError(w, "failed to change passkey", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConfirmations returns the batch awaiting acknowledgment, or an empty batch.
func (h *Handler) ListConfirmations(w http.ResponseWriter, _ *http.Request) {
	batch, _ := h.orch.Poller().Pending()
	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

// CheckConfirmations runs a poll cycle now.
func (h *Handler) CheckConfirmations(w http.ResponseWriter, r *http.Request) {
	batch, err := h.orch.Poller().CheckNow(r.Context())
	if err != nil {
		h.serviceError(w, "failed to check confirmations", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

// RespondConfirmation accepts or denies one pending confirmation.
func (h *Handler) RespondConfirmation(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == "" || req.ID == "" {
		writeError(w, http.StatusBadRequest, "account and id are required")
		return
	}

	if err := h.orch.Poller().Respond(r.Context(), req.Account, req.ID, req.Accept); err != nil {
		h.serviceError(w, "failed to respond to confirmation", err, "account", req.Account, "confirmation", req.ID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcknowledgeBatch dismisses the pending batch so polling resumes.
func (h *Handler) AcknowledgeBatch(w http.ResponseWriter, r *http.Request) {
	if !h.orch.Poller().Acknowledge(r.PathValue("batch")) {
		writeError(w, http.StatusNotFound, "batch not pending")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus reports time alignment and per-account health.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.status.Snapshot()
	accounts := make([]AccountStatusResponse, 0, len(snapshot))
	for _, s := range snapshot {
		accounts = append(accounts, toAccountStatusResponse(s))
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Clock:    toClockResponse(h.clock.Status()),
		Accounts: accounts,
	})
}

// GetSettings returns the persisted settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(h.accounts.Settings()))
}

// PutSettings replaces the settings and applies them to the poller.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	settings := model.Settings{
		PeriodicChecking:         req.PeriodicChecking,
		PeriodicCheckingInterval: req.PeriodicCheckingInterval,
		CheckAllAccounts:         req.CheckAllAccounts,
		Language:                 req.Language,
		FirstRun:                 h.accounts.Settings().FirstRun,
	}

	saved, err := h.orch.UpdateSettings(r.Context(), settings)
	if err != nil {
		h.serviceError(w, "failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(saved))
}

// ListActivity returns the audit trail, newest first, optionally for one
// account.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultActivityLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	resp := []ActivityResponse{}
	if h.activity == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	rows, err := h.activity.ListRecent(r.Context(), q.Get("account"), limit)
	if err != nil {
		h.serviceError(w, "failed to list activity", err)
		return
	}
	for _, a := range rows {
		resp = append(resp, toActivityResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckUpdate compares the running version with the latest published release.
func (h *Handler) CheckUpdate(w http.ResponseWriter, r *http.Request) {
	if h.updates == nil {
		writeError(w, http.StatusNotFound, "update check disabled")
		return
	}

	info, err := h.updates.Check(r.Context())
	if err != nil {
		h.logger.Warn("update check failed", "error", err)
		writeError(w, http.StatusBadGateway, "update check failed")
		return
	}

	writeJSON(w, http.StatusOK, UpdateResponse{
		CurrentVersion: info.CurrentVersion,
		LatestVersion:  info.LatestVersion,
		Available:      info.Available,
		URL:            info.URL,
	})
}
