package controller

import (
	"time"

	"github.com/agrilovers/internal/model"
)

// DemoBanner показывается постоянно, пока бэкенд не настроен.
const DemoBanner = "Preview mode: connect a backend to see real farmers, prices and chats."

func demoPosts(now time.Time) []model.Post {
	return []model.Post{
		{
			ID:               "demo-market-post-1",
			Author:           model.ProfileRef{FirstName: "Chipo", LastName: "M."},
			Content:          "SELLING: Maize\nQuantity: 20 x 50kg bags\nPrice: ZMW 1,800 per bag\nNotes: Pickup in Lusaka.",
			LocationProvince: "Lusaka",
			LocationDistrict: "Lusaka",
			CreatedAt:        now.Add(-45 * time.Minute),
			LikesCount:       6,
			CommentsCount:    2,
			CropTags:         []string{"Maize"},
			IsMarketPost:     true,
			MarketType:       model.MarketTypeSelling,
		},
		{
			ID:               "demo-market-post-2",
			Author:           model.ProfileRef{FirstName: "Patrick", LastName: "S."},
			Content:          "BUYING: Broiler chickens\nQuantity: 100\nNotes: Ready buyers, cash on delivery.",
			LocationProvince: "Copperbelt",
			LocationDistrict: "Ndola",
			CreatedAt:        now.Add(-6 * time.Hour),
			LikesCount:       3,
			CropTags:         []string{"Poultry"},
			IsMarketPost:     true,
			MarketType:       model.MarketTypeBuying,
		},
	}
}

func demoPrices(now time.Time) []model.PriceReport {
	return []model.PriceReport{
		{
			ID:              "demo-price-1",
			CropOrLivestock: "Maize",
			PricePerUnit:    145,
			Unit:            "kg",
			Currency:        "ZMW",
			Province:        "Lusaka",
			District:        "Chongwe",
			Notes:           "Wholesale price at main depot.",
			CreatedAt:       now.Add(-90 * time.Minute),
		},
		{
			ID:              "demo-price-2",
			CropOrLivestock: "Eggs",
			PricePerUnit:    85,
			Unit:            "tray",
			Currency:        "ZMW",
			Province:        "Central",
			District:        "Kabwe",
			CreatedAt:       now.Add(-20 * time.Hour),
		},
	}
}

func demoGroups() []model.Group {
	return []model.Group{
		{
			ID:           "demo-group-1",
			Name:         "Maize Farmers Association",
			Description:  "Prices, inputs, and harvesting tips for maize growers.",
			GroupType:    model.GroupTypeCrop,
			CropTag:      "Maize",
			Province:     "Lusaka",
			IsPublic:     true,
			MembersCount: 45,
		},
		{
			ID:           "demo-group-2",
			Name:         "Dairy Farmers Network",
			Description:  "Feed, milk collection routes, and vet contacts.",
			GroupType:    "livestock",
			Province:     "Copperbelt",
			IsPublic:     true,
			MembersCount: 28,
		},
	}
}

func demoChats() []model.ChatSummary {
	return []model.ChatSummary{
		{ID: "demo-chat-1", OtherUser: model.ProfileRef{FirstName: "Agnes", LastName: "K."}, UnreadCount: 1},
		{ID: "demo-chat-2", OtherUser: model.ProfileRef{FirstName: "Moses", LastName: "B."}},
	}
}

// demoContent — фиксированное содержимое вкладки в демо-режиме.
func demoContent(v View, now time.Time) any {
	switch v {
	case ViewFeed:
		return demoPosts(now)
	case ViewShowcase:
		return []model.Post{}
	case ViewMarket:
		return MarketContent{Listings: demoPosts(now), Prices: demoPrices(now)}
	case ViewGroups:
		return demoGroups()
	case ViewMessages:
		return demoChats()
	}
	return nil
}
