package handlers

import (
	"net/http"

	"familytasks/internal/models"
	"familytasks/internal/service"
)

// ListHandler handles shopping and task list HTTP requests
type ListHandler struct {
	listService *service.ListService
}

// NewListHandler creates a new list handler
func NewListHandler(listService *service.ListService) *ListHandler {
	return &ListHandler{listService: listService}
}

type createListRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type addItemRequest struct {
	Title string `json:"title"`
}

type updateItemRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

// GetLists returns the family's lists
func (h *ListHandler) GetLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.listService.GetLists(r.Context(), ClaimsFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if lists == nil {
		lists = []models.List{}
	}
	writeJSON(w, http.StatusOK, lists)
}

// CreateList adds a list
func (h *ListHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdult) {
		return
	}

	var req createListRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	list, err := h.listService.CreateList(r.Context(), ClaimsFromContext(r.Context()), req.Name, req.Kind)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// GetList returns a list with its items
func (h *ListHandler) GetList(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathID(w, r)
	if !ok {
		return
	}

	detail, err := h.listService.GetList(r.Context(), ClaimsFromContext(r.Context()), listID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// RenameList renames a list
func (h *ListHandler) RenameList(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdult) {
		return
	}
	listID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	list, err := h.listService.RenameList(r.Context(), ClaimsFromContext(r.Context()), listID, req.Name)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteList removes a list and its items
func (h *ListHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdult) {
		return
	}
	listID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.listService.DeleteList(r.Context(), ClaimsFromContext(r.Context()), listID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetItems returns the items of a list
func (h *ListHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathID(w, r)
	if !ok {
		return
	}

	items, err := h.listService.GetItems(r.Context(), ClaimsFromContext(r.Context()), listID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// AddItem adds an item to a list
func (h *ListHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleChild) {
		return
	}
	listID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	item, err := h.listService.AddItem(r.Context(), ClaimsFromContext(r.Context()), listID, req.Title)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// UpdateItem toggles completion or edits the title of an item
func (h *ListHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, CodeBadRequest, ErrInvalidBody, err)
		return
	}

	item, err := h.listService.UpdateItem(r.Context(), ClaimsFromContext(r.Context()), itemID, service.UpdateItemInput{
		Title:     req.Title,
		Completed: req.Completed,
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem removes an item
func (h *ListHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, models.RoleAdult) {
		return
	}
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.listService.DeleteItem(r.Context(), ClaimsFromContext(r.Context()), itemID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
