package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/model"
)

func (h *AppHandler) SetFeedFilters(w http.ResponseWriter, r *http.Request) {
	var f controller.FeedFilters
	if !decodeJSON(w, r, &f) {
		return
	}
	noContent(w, h.ctrl.SetFeedFilters(r.Context(), f))
}

func (h *AppHandler) SetMarketFilters(w http.ResponseWriter, r *http.Request) {
	var f controller.MarketFilters
	if !decodeJSON(w, r, &f) {
		return
	}
	noContent(w, h.ctrl.SetMarketFilters(r.Context(), f))
}

func (h *AppHandler) SetGroupFilters(w http.ResponseWriter, r *http.Request) {
	var f controller.GroupFilters
	if !decodeJSON(w, r, &f) {
		return
	}
	noContent(w, h.ctrl.SetGroupFilters(r.Context(), f))
}

type createPostRequest struct {
	Content      string           `json:"content"`
	CropTags     []string         `json:"crop_tags"`
	Province     string           `json:"province"`
	District     string           `json:"district"`
	IsMarketPost bool             `json:"is_market_post"`
	MarketType   model.MarketType `json:"market_type"`
}

// CreatePost принимает JSON или multipart (поля формы + images).
func (h *AppHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	images, err := readUploads(w, r, "images", h.uploads)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createPostRequest
	if r.MultipartForm != nil {
		req = createPostRequest{
			Content:    formValue(r, "content"),
			Province:   formValue(r, "province"),
			District:   formValue(r, "district"),
			MarketType: model.MarketType(formValue(r, "market_type")),
		}
		req.IsMarketPost, _ = strconv.ParseBool(formValue(r, "is_market_post"))
		for _, t := range strings.Split(formValue(r, "crop_tags"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.CropTags = append(req.CropTags, t)
			}
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.ctrl.CreatePost(r.Context(), model.NewPost{
		Content:      req.Content,
		CropTags:     req.CropTags,
		Province:     req.Province,
		District:     req.District,
		IsMarketPost: req.IsMarketPost,
		MarketType:   req.MarketType,
		Images:       images,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// LikePost переключает лайк; повторные нажатия по одному посту выполняются по очереди.
func (h *AppHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.LikePost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AppHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.ctrl.GetComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

type addCommentRequest struct {
	Content string `json:"content"`
}

func (h *AppHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req addCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.ctrl.AddComment(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type priceReportRequest struct {
	CropOrLivestock string  `json:"crop_or_livestock"`
	Unit            string  `json:"unit"`
	PricePerUnit    float64 `json:"price_per_unit"`
	Currency        string  `json:"currency"`
	Province        string  `json:"province"`
	District        string  `json:"district"`
	MarketID        string  `json:"market_id"`
	QualityGrade    string  `json:"quality_grade"`
	Notes           string  `json:"notes"`
}

func (h *AppHandler) ReportPrice(w http.ResponseWriter, r *http.Request) {
	var req priceReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rep, err := h.ctrl.ReportPrice(r.Context(), model.NewPriceReport{
		CropOrLivestock: req.CropOrLivestock,
		Unit:            req.Unit,
		PricePerUnit:    req.PricePerUnit,
		Currency:        req.Currency,
		Province:        req.Province,
		District:        req.District,
		MarketID:        req.MarketID,
		QualityGrade:    req.QualityGrade,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *AppHandler) AveragePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	avg, err := h.ctrl.AveragePrice(r.Context(), q.Get("crop"), q.Get("province"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avg)
}
