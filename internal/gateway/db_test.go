package gateway

import (
	"encoding/json"
	"testing"
)

type uidSession struct{ uid string }

func (s *uidSession) UserID() string      { return s.uid }
func (s *uidSession) AccessToken() string { return "" }

func TestClaimsHolderFollowsSession(t *testing.T) {
	h := NewClaimsHolder()
	var c Claims
	_ = json.Unmarshal([]byte(h.JSON()), &c)
	if c.Role != "anon" || c.Sub != "" {
		t.Fatalf("initial claims = %+v", c)
	}

	s := &uidSession{}
	h.Follow(s)
	s.uid = "u1"
	_ = json.Unmarshal([]byte(h.JSON()), &c)
	if c.Role != "authenticated" || c.Sub != "u1" {
		t.Fatalf("after sign in = %+v", c)
	}

	s.uid = ""
	c = Claims{}
	_ = json.Unmarshal([]byte(h.JSON()), &c)
	if c.Role != "anon" || c.Sub != "" {
		t.Errorf("after sign out = %+v", c)
	}
}
