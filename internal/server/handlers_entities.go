package server

import (
	"net/http"
	"strings"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/service/entities"
)

// HandleResolvePerson handles POST /v1/entities/people/resolve. It returns
// 201 when the person was registered by this call and 200 otherwise.
func (h *Handlers) HandleResolvePerson(w http.ResponseWriter, r *http.Request) {
	var req model.ResolvePersonRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email+req.FirstName+req.LastName) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email or name is required")
		return
	}

	m, err := h.resolver.ResolvePerson(r.Context(), entities.PersonInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		DryRun:    req.DryRun,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to resolve person", err)
		return
	}
	writeJSON(w, r, matchStatus(m.Match), m)
}

// HandleResolveOrganization handles POST /v1/entities/organizations/resolve.
func (h *Handlers) HandleResolveOrganization(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveOrganizationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name+req.Domain+req.Website) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name, domain or website is required")
		return
	}

	m, err := h.resolver.ResolveOrganization(r.Context(), entities.OrganizationInput{
		Name:    req.Name,
		Domain:  req.Domain,
		Website: req.Website,
		DryRun:  req.DryRun,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to resolve organization", err)
		return
	}
	writeJSON(w, r, matchStatus(m.Match), m)
}

func matchStatus(kind model.MatchKind) int {
	if kind == model.MatchCreated {
		return http.StatusCreated
	}
	return http.StatusOK
}
