package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/application"
	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a service error to the HTTP status reported to the caller.
// Zero means the error is not a user-facing condition.
func statusFor(err error) int {
	switch {
	case errors.Is(err, driven.ErrWrongPasskey):
		return http.StatusUnauthorized
	case errors.Is(err, driven.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, driven.ErrAccountNotFound),
		errors.Is(err, driven.ErrConfirmationNotFound):
		return http.StatusNotFound
	case errors.Is(err, driven.ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, driven.ErrPasskeyMismatch),
		errors.Is(err, driven.ErrCodeMismatch),
		errors.Is(err, driven.ErrUnknownKind),
		errors.Is(err, driven.ErrNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, driven.ErrSessionInvalid):
		return http.StatusBadGateway
	}
	return 0
}

// AccountResponse is one row of the account list.
type AccountResponse struct {
	Name         string `json:"name"`
	Position     int    `json:"position"`
	Active       bool   `json:"active"`
	SessionValid bool   `json:"session_valid"`
	LastError    string `json:"last_error,omitempty"`
}

// AccountListResponse is the filtered account list with selection state.
type AccountListResponse struct {
	Accounts    []AccountResponse `json:"accounts"`
	Active      string            `json:"active"`
	ActiveIndex int               `json:"active_index"`
	Locked      bool              `json:"locked"`
	Encrypted   bool              `json:"encrypted"`
}

// AddAccountRequest is the JSON body for the add account endpoint. Payload
// is the credential document in the format of the given kind.
type AddAccountRequest struct {
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MoveAccountRequest is the JSON body for the move account endpoint.
type MoveAccountRequest struct {
	To int `json:"to"`
}

// MoveAccountResponse reports whether the order changed.
type MoveAccountResponse struct {
	Moved bool `json:"moved"`
}

// CodeResponse is the JSON representation of a generated code.
type CodeResponse struct {
	Account          string `json:"account"`
	Code             string `json:"code"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Aligned          bool   `json:"aligned"`
	Aligning         bool   `json:"aligning"`
	GeneratedAt      string `json:"generated_at"`
}

// UnlockRequest is the JSON body for the unlock endpoint.
type UnlockRequest struct {
	Passkey string `json:"passkey"`
}

// ChangePasskeyRequest is the JSON body for the passkey endpoint. An empty
// New removes encryption.
type ChangePasskeyRequest struct {
	Old     string `json:"old"`
	New     string `json:"new"`
	Confirm string `json:"confirm"`
}

// ConfirmationResponse is the JSON representation of a pending confirmation.
type ConfirmationResponse struct {
	ID          string `json:"id"`
	Account     string `json:"account"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// BatchResponse is the JSON representation of a confirmation batch. An empty
// ID means nothing is pending.
type BatchResponse struct {
	ID            string                 `json:"id"`
	Confirmations []ConfirmationResponse `json:"confirmations"`
	CreatedAt     string                 `json:"created_at,omitempty"`
}

// RespondRequest is the JSON body for the respond endpoint.
type RespondRequest struct {
	Account string `json:"account"`
	ID      string `json:"id"`
	Accept  bool   `json:"accept"`
}

// AccountStatusResponse is the JSON representation of one account's health.
type AccountStatusResponse struct {
	Account       string `json:"account"`
	SessionValid  bool   `json:"session_valid"`
	LastError     string `json:"last_error,omitempty"`
	LastErrorAt   string `json:"last_error_at,omitempty"`
	LastRefreshAt string `json:"last_refresh_at,omitempty"`
}

// ClockResponse is the JSON representation of time alignment.
type ClockResponse struct {
	Aligned       bool   `json:"aligned"`
	Aligning      bool   `json:"aligning"`
	OffsetSeconds int64  `json:"offset_seconds"`
	LastError     string `json:"last_error,omitempty"`
	LastSuccess   string `json:"last_success,omitempty"`
}

// StatusResponse is the JSON body of the status endpoint.
type StatusResponse struct {
	Clock    ClockResponse           `json:"clock"`
	Accounts []AccountStatusResponse `json:"accounts"`
}

// SettingsRequest is the JSON body of the settings endpoints. FirstRun is
// read-only.
type SettingsRequest struct {
	PeriodicChecking         bool   `json:"periodic_checking"`
	PeriodicCheckingInterval int    `json:"periodic_checking_interval"`
	CheckAllAccounts         bool   `json:"check_all_accounts"`
	Language                 string `json:"language"`
	FirstRun                 bool   `json:"first_run"`
}

// ActivityResponse is the JSON representation of an audit trail row.
type ActivityResponse struct {
	ID        int64  `json:"id"`
	Account   string `json:"account"`
	Action    string `json:"action"`
	Subject   string `json:"subject,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Success   bool   `json:"success"`
	CreatedAt string `json:"created_at"`
}

// UpdateResponse is the JSON body of the update endpoint.
type UpdateResponse struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	Available      bool   `json:"available"`
	URL            string `json:"url"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Locked bool   `json:"locked"`
}

// formatTime renders t as RFC 3339 in UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toCodeResponse(u model.CodeUpdate) CodeResponse {
	return CodeResponse{
		Account:          u.Account,
		Code:             u.Code,
		SecondsRemaining: u.SecondsRemaining,
		Aligned:          u.Aligned,
		Aligning:         u.Aligning,
		GeneratedAt:      formatTime(u.GeneratedAt),
	}
}

func toBatchResponse(b model.ConfirmationBatch) BatchResponse {
	confs := make([]ConfirmationResponse, 0, len(b.Confirmations))
	for _, c := range b.Confirmations {
		confs = append(confs, ConfirmationResponse{
			ID:          c.ID,
			Account:     c.Account,
			Type:        c.Type,
			Description: c.Description,
			CreatedAt:   formatTime(c.CreatedAt),
		})
	}
	return BatchResponse{
		ID:            b.ID,
		Confirmations: confs,
		CreatedAt:     formatTime(b.CreatedAt),
	}
}

func toAccountStatusResponse(s model.AccountStatus) AccountStatusResponse {
	return AccountStatusResponse{
		Account:       s.Account,
		SessionValid:  s.SessionValid,
		LastError:     s.LastError,
		LastErrorAt:   formatTime(s.LastErrorAt),
		LastRefreshAt: formatTime(s.LastRefreshAt),
	}
}

func toClockResponse(s application.AlignStatus) ClockResponse {
	return ClockResponse{
		Aligned:       s.Aligned,
		Aligning:      s.Aligning,
		OffsetSeconds: int64(s.Offset / time.Second),
		LastError:     s.LastError,
		LastSuccess:   formatTime(s.LastSuccess),
	}
}

func toSettingsResponse(s model.Settings) SettingsRequest {
	return SettingsRequest{
		PeriodicChecking:         s.PeriodicChecking,
		PeriodicCheckingInterval: s.PeriodicCheckingInterval,
		CheckAllAccounts:         s.CheckAllAccounts,
		Language:                 s.Language,
		FirstRun:                 s.FirstRun,
	}
}

func toActivityResponse(a model.Activity) ActivityResponse {
	return ActivityResponse{
		ID:        a.ID,
		Account:   a.Account,
		Action:    string(a.Action),
		Subject:   a.Subject,
		Detail:    a.Detail,
		Success:   a.Success,
		CreatedAt: formatTime(a.CreatedAt),
	}
}
