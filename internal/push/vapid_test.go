package push

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestEnsureVAPIDKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "vapid.json")
	first, err := EnsureVAPIDKeys("", "", path)
	if err != nil {
		t.Fatal(err)
	}
	if !first.complete() {
		t.Fatalf("keys = %+v", first)
	}
	second, err := EnsureVAPIDKeys("", "", path)
	if err != nil {
		t.Fatal(err)
	}
	if *second != *first {
		t.Errorf("keys changed between runs")
	}
}

func TestEnsureVAPIDKeysFromEnv(t *testing.T) {
	keys, err := EnsureVAPIDKeys("pub", "priv", filepath.Join(t.TempDir(), "unused.json"))
	if err != nil || keys.PublicKey != "pub" || keys.PrivateKey != "priv" {
		t.Fatalf("keys = %+v err = %v", keys, err)
	}
	if _, err := EnsureVAPIDKeys("pub", "", ""); !errors.Is(err, errHalfKeyPair) {
		t.Errorf("half pair: %v", err)
	}
}
