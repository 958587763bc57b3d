package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"familytasks/internal/models"
	"familytasks/internal/service"
)

// FamilyHandler handles family and membership HTTP requests
type FamilyHandler struct {
	familyService *service.FamilyService
	backupService *service.BackupService
}

// NewFamilyHandler creates a new family handler
func NewFamilyHandler(familyService *service.FamilyService, backupService *service.BackupService) *FamilyHandler {
	return &FamilyHandler{familyService: familyService, backupService: backupService}
}

type familyResponse struct {
	*models.Family
	Members []models.AppUser `json:"members"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// GetFamily returns the caller's family with its members
func (h *FamilyHandler) GetFamily(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	family, err := h.familyService.GetFamily(r.Context(), claims)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	members, err := h.familyService.ListMembers(r.Context(), claims)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, familyResponse{Family: family, Members: members})
}

// RenameFamily renames the caller's family
func (h *FamilyHandler) RenameFamily(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdmin) {
		return
	}

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	family, err := h.familyService.RenameFamily(r.Context(), ClaimsFromContext(r.Context()), req.Name)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, family)
}

// ListMembers returns the members of the caller's family
func (h *FamilyHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.familyService.ListMembers(r.Context(), ClaimsFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// AddMember adds a member. Adults may add children only, which the service enforces.
func (h *FamilyHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdult) {
		return
	}

	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	member, err := h.familyService.AddMember(r.Context(), ClaimsFromContext(r.Context()), service.AddMemberInput{
		Email:    req.Email,
		Name:     req.Name,
		Role:     req.Role,
		Password: req.Password,
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// UpdateMember changes a member's role
func (h *FamilyHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdmin) {
		return
	}
	memberID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	member, err := h.familyService.UpdateRole(r.Context(), ClaimsFromContext(r.Context()), memberID, req.Role)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// RemoveMember removes a member and their login
func (h *FamilyHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdmin) {
		return
	}
	memberID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.familyService.RemoveMember(r.Context(), ClaimsFromContext(r.Context()), memberID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportFamily downloads the family's members, lists and items as JSON
func (h *FamilyHandler) ExportFamily(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdmin) {
		return
	}
	claims := ClaimsFromContext(r.Context())

	var buf bytes.Buffer
	if err := h.backupService.ExportToWriter(r.Context(), claims.FamilyID, &buf); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="family-%d.json"`, claims.FamilyID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// pathID parses the {id} path segment. A malformed id is reported as not found.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, r, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return 0, false
	}
	return id, true
}
