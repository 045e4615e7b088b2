/*
handlers.go - HTTP API handlers for the family ledger

PURPOSE:
  Exposes the account, goal and chore services over REST. Handles HTTP
  request/response and JSON, and delegates every rule to the services.

ENDPOINTS:
  Parent (/api/parent):
    GET    /children                          List own children
    POST   /children                          Create child
    GET    /children/{childID}                Get child
    PUT    /children/{childID}                Update name, limit, allowance
    POST   /children/{childID}/balance        Manual adjustment
    POST   /children/{childID}/allowance      Pay the configured allowance
    POST   /allowances/pay-due                Pay every allowance not yet paid this period
    GET    /chores                            List chores (?status=&child_id=)
    POST   /chores                            Create chore
    GET    /chores/{choreID}                  Get chore
    PUT    /chores/{choreID}                  Update chore
    DELETE /chores/{choreID}                  Delete chore
    PATCH  /chores/{choreID}/approve          Approve and pay reward
    GET    /savings-goals                     List goals (?child_id=)
    GET    /savings-goals/{goalID}            Get goal
    POST   /savings-goals/{goalID}/contribute Contribute toward a goal
    GET    /transactions                      Ledger (?child_id=&type=&limit=&offset=)

  Child (/api/child):
    GET    /profile                           Own account
    GET    /dashboard                         Balance and counters
    GET    /chores                            Assigned chores
    GET    /chores/{choreID}                  Get chore
    PATCH  /chores/{choreID}/complete         Mark complete
    GET    /savings-goals                     Own goals
    POST   /savings-goals                     Create goal
    GET    /savings-goals/{goalID}            Get goal
    POST   /savings-goals/{goalID}/contribute Contribute from balance
    DELETE /savings-goals/{goalID}            Delete goal, refunding it
    GET    /transactions                      Own ledger
    POST   /transactions                      Record spending

REQUEST FLOW:
  1. Actor comes from the bearer token (auth.go)
  2. Parse and check required fields
  3. Call the service
  4. Serialize response, or map the error kind to a status

ERROR HANDLING:
  - 400: validation
  - 401: missing or invalid token
  - 403: forbidden
  - 404: not found (also "not yours")
  - 409: conflict (duplicate name, reused idempotency key)
  - 422: insufficient funds, policy violation
  - 503: infrastructure failure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/family-ledger/accounts"
	"github.com/warp/family-ledger/allowance"
	"github.com/warp/family-ledger/chores"
	"github.com/warp/family-ledger/goals"
	"github.com/warp/family-ledger/ledger"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts   *accounts.Service
	Allowances *allowance.Payer
	Goals      *goals.Service
	Chores     *chores.Service
	Store      Pinger
}

func NewHandler(a *accounts.Service, p *allowance.Payer, g *goals.Service, c *chores.Service, store Pinger) *Handler {
	return &Handler{Accounts: a, Allowances: p, Goals: g, Chores: c, Store: store}
}

// Health checks the store connection.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CHILD ACCOUNTS
// =============================================================================

func (h *Handler) ListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.Accounts.ListChildren(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ChildDTO, len(children))
	for i, c := range children {
		dtos[i] = toChildDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateChild(w http.ResponseWriter, r *http.Request) {
	var req CreateChildRequest
	if !decode(w, r, &req) {
		return
	}
	in := accounts.NewChild{Name: req.Name}
	if req.InitialBalance != nil {
		in.InitialBalance = *req.InitialBalance
	}
	if req.SpendingLimit != nil {
		in.SpendingLimit = &ledger.SpendingLimit{Amount: *req.SpendingLimit, Frequency: ledger.Frequency(req.SpendingLimitFrequency)}
	}
	if req.AllowanceAmount != nil {
		in.Allowance = &ledger.Allowance{Amount: *req.AllowanceAmount, Frequency: ledger.Frequency(req.AllowanceFrequency)}
	}

	child, err := h.Accounts.CreateChild(r.Context(), actor(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChildDTO(*child))
}

func (h *Handler) GetChild(w http.ResponseWriter, r *http.Request) {
	child, err := h.Accounts.GetChild(r.Context(), actor(r), childParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChildDTO(*child))
}

// Profile is GetChild for the acting child.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	child, err := h.Accounts.GetChild(r.Context(), a, ledger.ChildID(a.ID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChildDTO(*child))
}

func (h *Handler) UpdateChild(w http.ResponseWriter, r *http.Request) {
	var req UpdateChildRequest
	if !decode(w, r, &req) {
		return
	}
	u := accounts.ChildUpdate{
		Name:               req.Name,
		ClearSpendingLimit: req.ClearSpendingLimit,
		ClearAllowance:     req.ClearAllowance,
	}
	if req.SpendingLimit != nil {
		u.SpendingLimit = &ledger.SpendingLimit{Amount: *req.SpendingLimit, Frequency: ledger.Frequency(req.SpendingLimitFrequency)}
	}
	if req.AllowanceAmount != nil {
		u.Allowance = &ledger.Allowance{Amount: *req.AllowanceAmount, Frequency: ledger.Frequency(req.AllowanceFrequency)}
	}

	child, err := h.Accounts.UpdateChild(r.Context(), actor(r), childParam(r), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChildDTO(*child))
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Accounts.Dashboard(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardDTO{
		Balance:       ledger.FormatMoney(d.Balance),
		PendingChores: d.PendingChores,
		ActiveGoals:   d.ActiveGoals,
	})
}

// =============================================================================
// BALANCE MUTATIONS
// =============================================================================

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeEntry(w, r)
	if !ok {
		return
	}
	res, err := h.Accounts.Adjust(r.Context(), actor(r), childParam(r), e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Replayed), toMutationResponse(res))
}

func (h *Handler) PayAllowance(w http.ResponseWriter, r *http.Request) {
	var req AllowanceRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	res, err := h.Accounts.PayAllowance(r.Context(), actor(r), childParam(r), req.IdempotencyKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Replayed), toMutationResponse(res))
}

func (h *Handler) PayDueAllowances(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Allowances.PayDue(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) RecordSpending(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeEntry(w, r)
	if !ok {
		return
	}
	res, err := h.Accounts.Spend(r.Context(), actor(r), e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Replayed), toMutationResponse(res))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.TransactionFilter
	if v := q.Get("child_id"); v != "" {
		id := ledger.ChildID(v)
		f.ChildID = &id
	}
	if v := q.Get("type"); v != "" {
		t := ledger.TxType(v)
		f.Type = &t
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := h.Accounts.Transactions(r.Context(), actor(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// SAVINGS GOALS
// =============================================================================

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	var childID *ledger.ChildID
	if v := r.URL.Query().Get("child_id"); v != "" {
		id := ledger.ChildID(v)
		childID = &id
	}
	list, err := h.Goals.List(r.Context(), actor(r), childID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]GoalDTO, len(list))
	for i, g := range list {
		dtos[i] = toGoalDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req CreateGoalRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TargetAmount == nil {
		writeError(w, r, ledger.Invalid("target_amount", "is required"))
		return
	}
	g, err := h.Goals.Create(r.Context(), actor(r), req.Name, *req.TargetAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalDTO(*g))
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	g, err := h.Goals.Get(r.Context(), actor(r), goalParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDTO(*g))
}

func (h *Handler) ContributeToGoal(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeEntry(w, r)
	if !ok {
		return
	}
	out, err := h.Goals.Contribute(r.Context(), actor(r), goalParam(r), goals.Contribution{
		Amount:         e.Amount,
		Description:    e.Description,
		IdempotencyKey: e.IdempotencyKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(out.Replayed), toGoalOutcome(out))
}

func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	out, err := h.Goals.Delete(r.Context(), actor(r), goalParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalOutcome(out))
}

// =============================================================================
// CHORES
// =============================================================================

func (h *Handler) ListChores(w http.ResponseWriter, r *http.Request) {
	var q chores.ChoreQuery
	if v := r.URL.Query().Get("status"); v != "" {
		s := ledger.ChoreStatus(v)
		q.Status = &s
	}
	if v := r.URL.Query().Get("child_id"); v != "" {
		id := ledger.ChildID(v)
		q.ChildID = &id
	}
	list, err := h.Chores.List(r.Context(), actor(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ChoreDTO, len(list))
	for i, c := range list {
		dtos[i] = toChoreDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateChore(w http.ResponseWriter, r *http.Request) {
	var req CreateChoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Points == nil {
		writeError(w, r, ledger.Invalid("points", "is required"))
		return
	}
	in := chores.NewChore{Title: req.Title, Description: req.Description, Points: *req.Points}
	if req.AssignedChildID != nil && *req.AssignedChildID != "" {
		id := ledger.ChildID(*req.AssignedChildID)
		in.AssignedChildID = &id
	}
	c, err := h.Chores.Create(r.Context(), actor(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChoreDTO(*c))
}

func (h *Handler) GetChore(w http.ResponseWriter, r *http.Request) {
	c, err := h.Chores.Get(r.Context(), actor(r), choreParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChoreDTO(*c))
}

func (h *Handler) UpdateChore(w http.ResponseWriter, r *http.Request) {
	var req UpdateChoreRequest
	if !decode(w, r, &req) {
		return
	}
	u := chores.ChoreUpdate{
		Title:       req.Title,
		Description: req.Description,
		Points:      req.Points,
		Unassign:    req.Unassign,
	}
	if req.AssignedChildID != nil && *req.AssignedChildID != "" {
		id := ledger.ChildID(*req.AssignedChildID)
		u.AssignedChildID = &id
	}
	c, err := h.Chores.Update(r.Context(), actor(r), choreParam(r), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChoreDTO(*c))
}

func (h *Handler) DeleteChore(w http.ResponseWriter, r *http.Request) {
	if err := h.Chores.Delete(r.Context(), actor(r), choreParam(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompleteChore(w http.ResponseWriter, r *http.Request) {
	c, err := h.Chores.MarkComplete(r.Context(), actor(r), choreParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChoreDTO(*c))
}

func (h *Handler) ApproveChore(w http.ResponseWriter, r *http.Request) {
	a, err := h.Chores.Approve(r.Context(), actor(r), choreParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalResponse(a))
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) ledger.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func childParam(r *http.Request) ledger.ChildID {
	return ledger.ChildID(chi.URLParam(r, "childID"))
}

func goalParam(r *http.Request) ledger.GoalID {
	return ledger.GoalID(chi.URLParam(r, "goalID"))
}

func choreParam(r *http.Request) ledger.ChoreID {
	return ledger.ChoreID(chi.URLParam(r, "choreID"))
}

func intParam(v, field string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, ledger.Invalid(field, "must be an integer")
	}
	return n, nil
}

// decode reads a JSON body into v. On failure it writes a 400 and
// returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, ledger.Invalid("body", "malformed JSON: "+err.Error()))
		return false
	}
	return true
}

func decodeEntry(w http.ResponseWriter, r *http.Request) (accounts.Entry, bool) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return accounts.Entry{}, false
	}
	if req.Amount == nil {
		writeError(w, r, ledger.Invalid("amount", "is required"))
		return accounts.Entry{}, false
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	return accounts.Entry{Amount: *req.Amount, Description: req.Description, IdempotencyKey: req.IdempotencyKey}, true
}

// mutationStatus is 201 for a new ledger entry, 200 for a replay.
func mutationStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps the error kind to a status and writes ErrorResponse.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: string(kind)}

	var (
		verr  *ledger.ValidationError
		insuf *ledger.InsufficientFundsError
		limit *ledger.SpendingLimitError
		pv    *ledger.PolicyViolationError
	)
	switch {
	case errors.As(err, &verr) && verr.Field != "":
		resp.Details = map[string]any{"field": verr.Field}
	case errors.As(err, &insuf):
		resp.Details = map[string]any{
			"available": ledger.FormatMoney(insuf.Available),
			"requested": ledger.FormatMoney(insuf.Requested),
			"shortfall": ledger.FormatMoney(insuf.Shortfall()),
		}
	case errors.As(err, &limit):
		resp.Details = map[string]any{
			"rule":      ledger.RuleSpendingLimit,
			"limit":     ledger.FormatMoney(limit.Limit),
			"spent":     ledger.FormatMoney(limit.Spent),
			"remaining": ledger.FormatMoney(limit.Remaining),
			"frequency": string(limit.Frequency),
		}
	case errors.As(err, &pv):
		resp.Details = map[string]any{"rule": pv.Rule}
	}

	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		resp.Error = "service temporarily unavailable"
	}
	writeJSON(w, status, resp)
}

func statusFor(k ledger.Kind) int {
	switch k {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInsufficientFunds, ledger.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
