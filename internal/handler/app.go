package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/gateway"
)

// AppHandler — REST-поверхность контроллера. Каждый запрос — одно действие
// пользователя; изменения состояния одновременно уходят во вкладки через хаб.
type AppHandler struct {
	ctrl    *controller.Controller
	uploads gateway.UploadLimits
}

func NewAppHandler(ctrl *controller.Controller, uploads gateway.UploadLimits) *AppHandler {
	return &AppHandler{ctrl: ctrl, uploads: uploads}
}

// Routes монтирует маршруты под /api.
func (h *AppHandler) Routes(r chi.Router) {
	r.Get("/state", h.GetState)
	r.Post("/view", h.SwitchView)
	r.Post("/back", h.Back)
	r.Post("/reload", h.Reload)
	r.Post("/modals/{modal}", h.OpenModal)
	r.Delete("/modals/{modal}", h.CloseModal)

	r.Post("/notifications/{id}/read", h.MarkNotificationRead)
	r.Post("/notifications/read-all", h.MarkAllNotificationsRead)

	r.Post("/chats/{id}/open", h.OpenChat)
	r.Post("/farmers/{id}/chat", h.StartChat)
	r.Delete("/chat", h.CloseChat)
	r.Post("/chat/messages", h.SendMessage)

	r.Put("/filters/feed", h.SetFeedFilters)
	r.Put("/filters/market", h.SetMarketFilters)
	r.Put("/filters/groups", h.SetGroupFilters)

	r.Post("/posts", h.CreatePost)
	r.Post("/posts/{id}/like", h.LikePost)
	r.Get("/posts/{id}/comments", h.GetComments)
	r.Post("/posts/{id}/comments", h.AddComment)

	r.Post("/market/prices", h.ReportPrice)
	r.Get("/market/prices/average", h.AveragePrice)

	r.Post("/groups", h.CreateGroup)
	r.Post("/groups/{id}/join", h.JoinGroup)
	r.Delete("/groups/{id}/membership", h.LeaveGroup)
	r.Post("/groups/{id}/chat/open", h.OpenGroupChat)

	r.Post("/friends/requests", h.SendFriendRequest)
	r.Post("/friends/requests/{id}", h.RespondToFriendRequest)
	r.Delete("/friends/{id}", h.RemoveFriend)

	r.Post("/stories", h.CreateStory)
	r.Post("/stories/{id}/view", h.ViewStory)

	r.Post("/search", h.Search)
	r.Get("/search/suggestions", h.Suggestions)

	r.Get("/tools/seed-rate", h.SeedRate)
	r.Get("/tools/fertilizer", h.Fertilizer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", h.SignIn)
		r.Post("/signup", h.SignUp)
		r.Post("/otp", h.SendCode)
		r.Post("/verify", h.VerifyCode)
		r.Post("/signout", h.SignOut)
	})
	r.Put("/profile", h.SaveProfile)
}

// UserID — id вошедшего пользователя для обработчиков вне контроллера.
func (h *AppHandler) UserID() string {
	return h.ctrl.Snapshot().UserID
}
