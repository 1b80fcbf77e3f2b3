package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/catalog"
	"github.com/groupgate/groupgate/internal/policy"
)

// Join statuses as reported by the group endpoint.
const (
	statusJoined                 = "JOINED"
	statusJoinDisallowed         = "JOIN_DISALLOWED"
	statusJoinWithApproval       = "JOIN_ALLOWED_WITH_APPROVAL"
	statusJoinWithoutApproval    = "JOIN_ALLOWED_WITHOUT_APPROVAL"
	maxJoinRequestBodySize int64 = 64 << 10
)

type inputInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Min         *int64 `json:"min,omitempty"`
	Max         *int64 `json:"max,omitempty"`
}

func inputInfos(properties []*policy.Property) []inputInfo {
	infos := make([]inputInfo, 0, len(properties))
	for _, property := range properties {
		info := inputInfo{
			Name:        property.Name(),
			DisplayName: property.DisplayName(),
			Type:        string(property.Type()),
			Required:    property.Required(),
		}
		if minValue, ok := property.MinInclusive(); ok {
			info.Min = &minValue
		}
		if maxValue, ok := property.MaxInclusive(); ok {
			info.Max = &maxValue
		}
		infos = append(infos, info)
	}
	return infos
}

func (h *Handler) lookupGroup(w http.ResponseWriter, r *http.Request) (*catalog.Catalog, *catalog.JitGroupView, bool) {
	c, ok := h.catalog(r)
	if !ok {
		writeHidden(w)
		return nil, nil, false
	}
	id := auth.NewJitGroupID(r.PathValue("env"), r.PathValue("sys"), r.PathValue("name"))
	view, ok, err := c.Group(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return nil, nil, false
	}
	if !ok {
		writeHidden(w)
		return nil, nil, false
	}
	return c, view, true
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("token"); token != "" {
		h.pickupDeferral(w, r, token)
		return
	}

	_, view, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}

	op, err := view.Join(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	result, err := op.DryRun(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	body := map[string]any{
		"id":          view.ID().String(),
		"description": view.Policy().Description(),
		"group":       string(view.BackingGroup()),
		"input":       inputInfos(op.Input()),
	}
	switch {
	case result.ActiveMembership != nil:
		body["status"] = statusJoined
		if expiry := result.ActiveMembership.Expiry; !expiry.IsZero() {
			body["expiry"] = expiry.Format(time.RFC3339)
		}
	case !result.AccessAllowed:
		body["status"] = statusJoinDisallowed
	case op.RequiresApproval():
		body["status"] = statusJoinWithApproval
	default:
		body["status"] = statusJoinWithoutApproval
	}
	writeJSON(w, http.StatusOK, body)
}

type joinRequest struct {
	Inputs    map[string]string `json:"inputs"`
	Assignees []string          `json:"assignees"`
}

func (h *Handler) postGroup(w http.ResponseWriter, r *http.Request) {
	var request joinRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJoinRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	_, view, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}
	op, err := view.Join(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	for name, value := range request.Inputs {
		if err := op.SetInput(name, value); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}

	if op.RequiresApproval() {
		h.deferJoin(w, r, op, request.Assignees)
		return
	}

	principal, err := op.Execute(r.Context())
	if err != nil {
		h.countJoin("denied")
		writeError(r.Context(), w, err)
		return
	}
	h.countJoin("executed")

	LoggerFromContext(r.Context()).Info("group joined",
		"event", "join.execute",
		"group", view.ID().String())

	body := map[string]any{
		"id":     view.ID().String(),
		"status": statusJoined,
		"active": true,
	}
	if !principal.Expiry.IsZero() {
		body["expiry"] = principal.Expiry.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) deferJoin(w http.ResponseWriter, r *http.Request, op *catalog.JoinOperation, assignees []string) {
	users := make([]auth.UserID, 0, len(assignees))
	for _, assignee := range assignees {
		users = append(users, auth.NewUserID(assignee))
	}

	token, err := h.deferrer.Defer(r.Context(), op, users)
	if err != nil {
		h.countJoin("denied")
		writeError(r.Context(), w, err)
		return
	}
	h.countJoin("deferred")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":          op.Group().String(),
		"status":      statusJoinWithApproval,
		"token":       token.Token,
		"tokenExpiry": token.Expiry.Format(time.RFC3339),
	})
}

// pickupDeferral lets an assignee review a deferred join. The token's
// group must match the requested path. The deferred inputs are re-bound
// onto a fresh operation for the deferrer and dry-run, so the response
// reflects whether the request is still grantable at review time.
func (h *Handler) pickupDeferral(w http.ResponseWriter, r *http.Request, token string) {
	user, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeHidden(w)
		return
	}

	deferred, err := h.deferrer.Pickup(r.Context(), token)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := deferred.VerifyAssignee(user); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	id := auth.NewJitGroupID(r.PathValue("env"), r.PathValue("sys"), r.PathValue("name"))
	if deferred.Group != id {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "the token does not match the requested group"})
		return
	}

	deferrerCatalog := catalog.NewCatalog(h.source, h.resolver.Subject(deferred.Deferrer))
	view, ok, err := deferrerCatalog.Group(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeHidden(w)
		return
	}
	op, err := view.Join(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := deferred.ApplyInput(op); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	result, err := op.DryRun(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	assignees := make([]string, 0, len(deferred.Assignees))
	for _, assignee := range deferred.Assignees {
		assignees = append(assignees, string(assignee))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        id.String(),
		"deferrer":  string(deferred.Deferrer),
		"assignees": assignees,
		"inputs":    deferred.Input,
		"satisfied": result.IsAccessAllowed(policy.AccessDefault),
	})
}

func (h *Handler) countJoin(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.JoinsTotal.WithLabelValues(outcome).Inc()
}
