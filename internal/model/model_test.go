package model

import "testing"

func TestProfileRefDisplay(t *testing.T) {
	tests := []struct {
		ref      ProfileRef
		name     string
		initials string
	}{
		{ProfileRef{FirstName: "mary", LastName: "banda"}, "mary banda", "MB"},
		{ProfileRef{FirstName: "Joseph"}, "Joseph", "J"},
		{ProfileRef{}, "Unknown", "U"},
	}
	for _, tt := range tests {
		if got := tt.ref.DisplayName(); got != tt.name {
			t.Errorf("DisplayName = %q, want %q", got, tt.name)
		}
		if got := tt.ref.Initials(); got != tt.initials {
			t.Errorf("Initials = %q, want %q", got, tt.initials)
		}
	}
}

func TestChatOtherUser(t *testing.T) {
	c := Chat{User1ID: "a", User2ID: "b"}
	if c.OtherUserID("a") != "b" || c.OtherUserID("b") != "a" {
		t.Fatal("wrong counterpart")
	}
}

func TestParseSearchType(t *testing.T) {
	if ParseSearchType("crop") != SearchCrop {
		t.Fatal("crop")
	}
	if ParseSearchType("bogus") != SearchAll || ParseSearchType("") != SearchAll {
		t.Fatal("fallback to all")
	}
}
