/*
handlers.go - HTTP handlers for the endowment engine

PURPOSE:
  Exposes waqf.Service over REST. Handlers decode and validate the body,
  call one service method and serialize what it returns. No business rule
  lives here.

ENDPOINTS:
  Causes:
    GET    /api/causes                                       List catalog
    POST   /api/causes                                       Upsert catalog entry

  Endowments:
    GET    /api/endowments                                   List (?type=&status=&donor_id=)
    POST   /api/endowments                                   Create
    GET    /api/endowments/{id}                              Read model
    GET    /api/endowments/{id}/allocation                   Allocation split and scores
    GET    /api/endowments/{id}/tranches                     Classified tranches (?at=epoch)
    GET    /api/endowments/{id}/transactions                 Ledger entries
    GET    /api/endowments/{id}/completion                   Consumable progress
    GET    /api/endowments/{id}/audit                        Ledger replay check
    POST   /api/endowments/{id}/contributions                Book a confirmed payment
    POST   /api/endowments/{id}/contributions/check          Ask without booking
    POST   /api/endowments/{id}/distributions                Book a payout
    POST   /api/endowments/{id}/returns                      Book an investment return
    PUT    /api/endowments/{id}/lock-period                  Extend the lock period
    POST   /api/endowments/{id}/preferences/apply            Run stored preferences now
    POST   /api/endowments/{id}/tranches/{tid}/resolve       Maturity action
    POST   /api/endowments/{id}/tranches/{tid}/withdraw      Early withdrawal
    POST   /api/endowments/{id}/tranches/{tid}/installments/{iid}/pay

  Admin:
    POST   /api/admin/sweep                                  Run the maturity sweep now
    GET    /api/admin/sweeps                                 Recent sweep runs (?limit=)

ERROR HANDLING:
  - 400: Body is not JSON or fails its shape rules
  - 404: Endowment, tranche, installment or cause not found
  - 409: State refuses the action, or a stale write lost every retry
  - 422: Engine rejected the values
  - 500: Everything else, including ledger inconsistencies

SEE ALSO:
  - dto.go: Request/response types
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/waqf-engine/factory"
	"github.com/warp/waqf-engine/waqf"
)

const defaultSweepRunLimit = 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// CauseStore persists catalog entries.
type CauseStore interface {
	SaveCause(ctx context.Context, c waqf.Cause) error
}

// SweepRunStore records sweep reports.
type SweepRunStore interface {
	SaveSweepRun(ctx context.Context, report waqf.SweepReport) error
	ListSweepRuns(ctx context.Context, limit int) ([]waqf.SweepReport, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *waqf.Service
	Causes  CauseStore
	Runs    SweepRunStore
}

func NewHandler(svc *waqf.Service, causes CauseStore, runs SweepRunStore) *Handler {
	return &Handler{Service: svc, Causes: causes, Runs: runs}
}

// =============================================================================
// CAUSE HANDLERS
// =============================================================================

func (h *Handler) ListCauses(w http.ResponseWriter, r *http.Request) {
	causes, err := h.Service.Causes(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to list causes", err)
		return
	}
	if causes == nil {
		causes = []waqf.Cause{}
	}
	writeJSON(w, http.StatusOK, causes)
}

func (h *Handler) CreateCause(w http.ResponseWriter, r *http.Request) {
	var req CreateCauseRequest
	if !decode(w, r, &req) {
		return
	}
	cause, err := req.ToCause()
	if err != nil {
		writeServiceError(w, r, "Invalid cause", err)
		return
	}
	if err := h.Causes.SaveCause(r.Context(), cause); err != nil {
		writeServiceError(w, r, "Failed to save cause", err)
		return
	}
	writeJSON(w, http.StatusCreated, cause)
}

// =============================================================================
// ENDOWMENT HANDLERS
// =============================================================================

func (h *Handler) ListEndowments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := waqf.ListFilter{
		Status:  waqf.Status(q.Get("status")),
		DonorID: q.Get("donor_id"),
	}
	if t := q.Get("type"); t != "" {
		typ, err := waqf.ParseWaqfType(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid type filter", err)
			return
		}
		filter.Type = typ
	}
	list, err := h.Service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, "Failed to list endowments", err)
		return
	}
	if list == nil {
		list = []waqf.Endowment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateEndowment(w http.ResponseWriter, r *http.Request) {
	var req CreateEndowmentRequest
	if !decode(w, r, &req) {
		return
	}
	params, err := req.ToParams()
	if err != nil {
		writeServiceError(w, r, "Invalid endowment", err)
		return
	}
	e, err := h.Service.CreateEndowment(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "Failed to create endowment", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) GetEndowment(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.Get(r.Context(), endowmentID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to load endowment", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.AllocationSplit(r.Context(), endowmentID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to compute allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetTranches classifies tranches at ?at=, which may be an epoch in any
// unit or an RFC 3339 time. Without it the service clock is used.
func (h *Handler) GetTranches(w http.ResponseWriter, r *http.Request) {
	at, err := factory.ParseTimestamp(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at parameter", err)
		return
	}
	c, err := h.Service.Classify(r.Context(), endowmentID(r), at)
	if err != nil {
		writeServiceError(w, r, "Failed to classify tranches", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.Transactions(r.Context(), endowmentID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	c, monthly, err := h.Service.Completion(r.Context(), endowmentID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to compute completion", err)
		return
	}
	writeJSON(w, http.StatusOK, CompletionDTO{Completion: c, RecommendedMonthly: monthly})
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Audit(r.Context(), endowmentID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to audit endowment", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// CONTRIBUTION HANDLERS
// =============================================================================

func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	var req ContributionRequest
	if !decode(w, r, &req) {
		return
	}
	pc, routing, pref, err := req.ToConfirmation()
	if err != nil {
		writeServiceError(w, r, "Invalid contribution", err)
		return
	}
	out, err := h.Service.Contribute(r.Context(), endowmentID(r), pc, routing, pref)
	if err != nil {
		writeServiceError(w, r, "Failed to record contribution", err)
		return
	}
	status := http.StatusCreated
	if out.Unchanged {
		status = http.StatusOK
	}
	writeJSON(w, status, toOutcomeDTO(out))
}

// CheckContribution answers 200 whether or not the amount is accepted; the
// decision carries the reason.
func (h *Handler) CheckContribution(w http.ResponseWriter, r *http.Request) {
	var req CheckContributionRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Service.CheckContribution(r.Context(), endowmentID(r), req.Amount)
	if err != nil && d.Reason == "" {
		writeServiceError(w, r, "Failed to check contribution", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req DistributionRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := req.ToDistribution()
	if err != nil {
		writeServiceError(w, r, "Invalid distribution", err)
		return
	}
	out, err := h.Service.Distribute(r.Context(), endowmentID(r), d)
	if err != nil {
		writeServiceError(w, r, "Failed to record distribution", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeDTO(out))
}

func (h *Handler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	var req InvestmentReturnRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.Service.RecordReturn(r.Context(), endowmentID(r), req.Amount, req.Reference)
	if err != nil {
		writeServiceError(w, r, "Failed to record investment return", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeDTO(out))
}

func (h *Handler) UpdateLockPeriod(w http.ResponseWriter, r *http.Request) {
	var req LockPeriodRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.Service.UpdateLockPeriod(r.Context(), endowmentID(r), req.Months)
	if err != nil {
		writeServiceError(w, r, "Failed to update lock period", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

// =============================================================================
// TRANCHE HANDLERS
// =============================================================================

func (h *Handler) ResolveTranche(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	action, err := req.ToAction()
	if err != nil {
		writeServiceError(w, r, "Invalid maturity action", err)
		return
	}
	out, err := h.Service.Resolve(r.Context(), endowmentID(r), trancheID(r), action)
	if err != nil {
		writeServiceError(w, r, "Failed to resolve tranche", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) WithdrawTranche(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.Withdraw(r.Context(), endowmentID(r), trancheID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to withdraw tranche", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.PayInstallment(r.Context(), endowmentID(r), trancheID(r), chi.URLParam(r, "iid"))
	if err != nil {
		writeServiceError(w, r, "Failed to pay installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) ApplyPreferences(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ApplyPreferences(r.Context(), endowmentID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to apply preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the maturity sweep synchronously and records the run.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, "Sweep failed", err)
		return
	}
	if h.Runs != nil {
		if err := h.Runs.SaveSweepRun(r.Context(), report); err != nil {
			logrus.WithError(err).Warn("failed to record manual sweep run")
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultSweepRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []waqf.SweepReport{})
		return
	}
	runs, err := h.Runs.ListSweepRuns(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, "Failed to list sweep runs", err)
		return
	}
	if runs == nil {
		runs = []waqf.SweepReport{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// =============================================================================
// HELPERS
// =============================================================================

type validatable interface {
	Validate() error
}

// decode reads the body into v and validates it. On failure it writes a 400
// and returns false.
func decode(w http.ResponseWriter, r *http.Request, v validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func endowmentID(r *http.Request) waqf.EndowmentID {
	return waqf.EndowmentID(chi.URLParam(r, "id"))
}

func trancheID(r *http.Request) waqf.TrancheID {
	return waqf.TrancheID(chi.URLParam(r, "tid"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
