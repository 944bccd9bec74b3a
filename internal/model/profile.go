package model

import (
	"strings"
	"time"
)

// Profile — прикладной профиль фермера, ключ совпадает с id пользователя в auth.
type Profile struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Province   string    `json:"province,omitempty"`
	District   string    `json:"district,omitempty"`
	FarmerType string    `json:"farmer_type,omitempty"`
	Crops      string    `json:"crops,omitempty"`
	Livestock  string    `json:"livestock,omitempty"`
	FarmSizeHa float64   `json:"farm_size_ha,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProfileRef — краткая карточка автора/отправителя, подмешиваемая к записям.
type ProfileRef struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Province   string `json:"province,omitempty"`
	District   string `json:"district,omitempty"`
	FarmerType string `json:"farmer_type,omitempty"`
}

// DisplayName возвращает "Имя Фамилия" или "Unknown".
func (p ProfileRef) DisplayName() string {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	if name == "" {
		return "Unknown"
	}
	return name
}

// Initials — запасной аватар из первых букв имени и фамилии.
func (p ProfileRef) Initials() string {
	out := ""
	if r := []rune(p.FirstName); len(r) > 0 {
		out += string(r[0])
	}
	if r := []rune(p.LastName); len(r) > 0 {
		out += string(r[0])
	}
	if out == "" {
		return "U"
	}
	return strings.ToUpper(out)
}

func (p *Profile) Ref() ProfileRef {
	return ProfileRef{
		ID:         p.ID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		AvatarURL:  p.AvatarURL,
		Province:   p.Province,
		District:   p.District,
		FarmerType: p.FarmerType,
	}
}
