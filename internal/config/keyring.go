package config

import (
	"github.com/zalando/go-keyring"
)

const keyringService = "tatty"

// SetSecret stores an API key in the OS keyring under the given name
// ("openai", "boundary", "gemini", "brave").
func SetSecret(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetSecret retrieves a stored API key. Returns keyring.ErrNotFound
// when the entry does not exist.
func GetSecret(name string) (string, error) {
	return keyring.Get(keyringService, name)
}

// DeleteSecret removes a stored API key. Deleting a missing entry is
// not an error.
func DeleteSecret(name string) error {
	err := keyring.Delete(keyringService, name)
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}
