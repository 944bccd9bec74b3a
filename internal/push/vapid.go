package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/agrilovers/internal/logger"
)

// VAPIDKeys — пара ключей Web Push.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) complete() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

const defaultVAPIDKeysPath = "config/vapid.json"

var errHalfKeyPair = errors.New("push: VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")

// EnsureVAPIDKeys: пара из окружения, иначе из файла (path, VAPID_KEYS_FILE или
// config/vapid.json), иначе новая пара, сохраняемая в этот файл. Ключи из файла
// переживают перезапуск, поэтому подписки браузеров остаются действительными.
func EnsureVAPIDKeys(public, private, path string) (*VAPIDKeys, error) {
	env := &VAPIDKeys{PublicKey: public, PrivateKey: private}
	if env.complete() {
		return env, nil
	}
	if public != "" || private != "" {
		return nil, errHalfKeyPair
	}
	path = keysPath(path)
	if stored, err := readKeys(path); err == nil && stored.complete() {
		return stored, nil
	} else if err != nil && !os.IsNotExist(err) {
		logger.Warnf("push: %s is unreadable, generating new keys: %v", path, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("push: generate VAPID keys: %w", err)
	}
	keys := &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := writeKeys(path, keys); err != nil {
		logger.Errorf("push: save VAPID keys to %s: %v (keys are used for this run only)", path, err)
		return keys, nil
	}
	logger.Infof("push: VAPID keys generated in %s", path)
	return keys, nil
}

func keysPath(path string) string {
	for _, p := range []string{path, os.Getenv("VAPID_KEYS_FILE")} {
		if p != "" {
			return p
		}
	}
	return defaultVAPIDKeysPath
}

func readKeys(path string) (*VAPIDKeys, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	keys := &VAPIDKeys{}
	return keys, json.NewDecoder(f).Decode(keys)
}

func writeKeys(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(keys); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
