package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/model"
)

type createGroupRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	GroupType   model.GroupType `json:"group_type"`
	CropTag     string          `json:"crop_tag"`
	Province    string          `json:"province"`
	District    string          `json:"district"`
	IsPublic    *bool           `json:"is_public"`
}

func (h *AppHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	public := true
	if req.IsPublic != nil {
		public = *req.IsPublic
	}
	g, err := h.ctrl.CreateGroup(r.Context(), model.NewGroup{
		Name:        req.Name,
		Description: req.Description,
		GroupType:   req.GroupType,
		CropTag:     req.CropTag,
		Province:    req.Province,
		District:    req.District,
		IsPublic:    public,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// JoinGroup вступает в открытую группу или подаёт заявку в закрытую.
func (h *AppHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	requested, err := h.ctrl.JoinGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"requested": requested})
}

func (h *AppHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	noContent(w, h.ctrl.LeaveGroup(r.Context(), chi.URLParam(r, "id")))
}

type friendRequestBody struct {
	ReceiverID string `json:"receiver_id"`
}

func (h *AppHandler) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req friendRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	fr, err := h.ctrl.SendFriendRequest(r.Context(), req.ReceiverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fr)
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

func (h *AppHandler) RespondToFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	noContent(w, h.ctrl.RespondToFriendRequest(r.Context(), chi.URLParam(r, "id"), req.Accept))
}

func (h *AppHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	noContent(w, h.ctrl.RemoveFriend(r.Context(), chi.URLParam(r, "id")))
}

// CreateStory — multipart: caption и одно изображение image.
func (h *AppHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	limits := h.uploads
	limits.MaxFiles = 1
	files, err := readUploads(w, r, "image", limits)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(files) == 0 {
		badRequest(w, "image required")
		return
	}
	st, err := h.ctrl.CreateStory(r.Context(), formValue(r, "caption"), files[0])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *AppHandler) ViewStory(w http.ResponseWriter, r *http.Request) {
	noContent(w, h.ctrl.ViewStory(r.Context(), chi.URLParam(r, "id")))
}

func (h *AppHandler) SeedRate(w http.ResponseWriter, r *http.Request) {
	area, ok := queryFloat(r, "area")
	if !ok {
		badRequest(w, "area must be a number")
		return
	}
	res, err := h.ctrl.SeedRate(r.URL.Query().Get("crop"), area)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AppHandler) Fertilizer(w http.ResponseWriter, r *http.Request) {
	area, ok := queryFloat(r, "area")
	if !ok {
		badRequest(w, "area must be a number")
		return
	}
	res, err := h.ctrl.Fertilizer(r.URL.Query().Get("crop"), area)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search переключает на вкладку поиска; результаты приходят в состоянии вкладки.
func (h *AppHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query   string              `json:"query"`
		Type    string              `json:"type"`
		Filters model.SearchFilters `json:"filters"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	q := controller.SearchQuery{Query: req.Query, Type: model.SearchType(req.Type), Filters: req.Filters}
	if err := h.ctrl.Search(r.Context(), q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Content[controller.ViewSearch])
}

func (h *AppHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	s, err := h.ctrl.Suggestions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	if s == nil {
		s = []model.Suggestion{}
	}
	limit := queryInt(r, "limit", len(s))
	if limit >= 0 && limit < len(s) {
		s = s[:limit]
	}
	writeJSON(w, http.StatusOK, s)
}
