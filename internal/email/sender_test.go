package email

import (
	"strings"
	"testing"

	"github.com/agrilovers/internal/config"
)

func TestNewSenderRequiresCredentials(t *testing.T) {
	if s := NewSender(&config.SMTPConfig{Host: "smtp.example.com"}); s != nil {
		t.Fatal("sender without credentials")
	}
	if s := NewSender(nil); s != nil {
		t.Fatal("sender from nil config")
	}
}

func TestMessage(t *testing.T) {
	s := NewSender(&config.SMTPConfig{Host: "h", Port: 587, Username: "bot@x.co", Password: "p", FromName: "Agrilovers"})
	msg := string(s.message("farmer@x.co", "123456"))
	for _, want := range []string{"From: Agrilovers <bot@x.co>", "To: farmer@x.co", "Your code: 123456"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}
