package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/wppimport/internal/importer"
	"github.com/matheus3301/wppimport/internal/lock"
	"github.com/matheus3301/wppimport/internal/session"
	"github.com/matheus3301/wppimport/internal/staging"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 20

type contactRequest struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

type messageRequest struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	SenderJID string `json:"senderJid"`
	PushName  string `json:"pushName"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`
}

// importRequest overrides the configured target of an instance. Both fields
// are optional.
type importRequest struct {
	AccountID int64 `json:"account_id"`
	InboxID   int64 `json:"inbox_id"`
}

type countResponse struct {
	Count int64  `json:"count"`
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func validTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := session.ValidateName(chi.URLParam(r, "tenant")); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) listInstances(w http.ResponseWriter, _ *http.Request) {
	instances := h.svc.Instances()
	if instances == nil {
		instances = []importer.InstanceStatus{}
	}
	writeJSON(w, http.StatusOK, instances)
}

func (h *Handler) stageContacts(w http.ResponseWriter, r *http.Request) {
	var req []contactRequest
	if !decode(w, r, &req) {
		return
	}
	contacts := make([]staging.Contact, 0, len(req))
	for _, c := range req {
		contacts = append(contacts, staging.Contact{ID: c.ID, PushName: c.PushName})
	}
	n := h.svc.StageContacts(chi.URLParam(r, "tenant"), contacts...)
	writeJSON(w, http.StatusAccepted, countResponse{Count: int64(n)})
}

func (h *Handler) stageMessages(w http.ResponseWriter, r *http.Request) {
	var req []messageRequest
	if !decode(w, r, &req) {
		return
	}
	messages := make([]staging.Message, 0, len(req))
	for _, m := range req {
		messages = append(messages, staging.Message{
			ID:        m.ID,
			RemoteJID: m.RemoteJID,
			SenderJID: m.SenderJID,
			PushName:  m.PushName,
			Text:      m.Text,
			Type:      m.Type,
			FromMe:    m.FromMe,
			Timestamp: m.Timestamp,
		})
	}
	n := h.svc.StageMessages(chi.URLParam(r, "tenant"), messages...)
	writeJSON(w, http.StatusAccepted, countResponse{Count: int64(n)})
}

func (h *Handler) importContacts(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	target, ok := h.target(w, r, tenant)
	if !ok {
		return
	}
	n, err := h.svc.ImportContacts(r.Context(), tenant, target.AccountID)
	h.writeImport(w, tenant, n, err)
}

func (h *Handler) importMessages(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	target, ok := h.target(w, r, tenant)
	if !ok {
		return
	}
	n, err := h.svc.ImportMessages(r.Context(), tenant, target.AccountID, target.InboxID)
	h.writeImport(w, tenant, n, err)
}

func (h *Handler) clearStaging(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearAll(chi.URLParam(r, "tenant"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run ledger disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.runs.Recent(r.Context(), chi.URLParam(r, "tenant"), limit)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list runs failed"})
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// target merges the configured target of tenant with the optional request
// body. An instance missing from the config must name both ids.
func (h *Handler) target(w http.ResponseWriter, r *http.Request, tenant string) (importRequest, bool) {
	var t importRequest
	if h.targets != nil {
		if inst, ok := h.targets.Instance(tenant); ok {
			t = importRequest{AccountID: inst.AccountID, InboxID: inst.InboxID}
		}
	}
	if r.ContentLength != 0 {
		var body importRequest
		if !decode(w, r, &body) {
			return t, false
		}
		if body.AccountID > 0 {
			t.AccountID = body.AccountID
		}
		if body.InboxID > 0 {
			t.InboxID = body.InboxID
		}
	}
	if t.AccountID <= 0 || t.InboxID <= 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown instance " + strconv.Quote(tenant) + ": configure it or pass account_id and inbox_id"})
		return t, false
	}
	return t, true
}

func (h *Handler) writeImport(w http.ResponseWriter, tenant string, n int64, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, countResponse{Count: n})
		return
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("import failed", zap.String("tenant", tenant), zap.Int64("rows", n), zap.Error(err))
	}
	writeJSON(w, code, countResponse{Count: n, Error: err.Error()})
}

// statusFor maps import errors to HTTP status codes. Anything not
// recognized is a failure of the helpdesk database.
func statusFor(err error) int {
	var held *lock.HeldError
	switch {
	case errors.Is(err, importer.ErrMessagesStaged), errors.As(err, &held):
		return http.StatusConflict
	case errors.Is(err, importer.ErrNoActingUser):
		return http.StatusPreconditionFailed
	default:
		return http.StatusBadGateway
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
