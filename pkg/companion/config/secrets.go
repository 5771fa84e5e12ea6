// secrets.go resolves credentials with a priority chain, grounded on the
// teacher's keyring.go (vault step dropped: companion has no encrypted
// vault feature, so the chain starts one step later at the OS keyring).
package config

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const keyringService = "companion"

// ResolveSecret resolves a secret using the priority chain: explicit
// config value -> environment variable -> OS keyring -> prompt callback.
// prompt may be nil, in which case an unresolved secret returns an error
// instead of prompting.
func ResolveSecret(explicit, envVar, keyringKey string, prompt func(label string) (string, error)) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if val := os.Getenv(envVar); val != "" {
		return val, nil
	}
	if val, err := keyring.Get(keyringService, keyringKey); err == nil && val != "" {
		return val, nil
	}
	if prompt != nil {
		val, err := prompt(keyringKey)
		if err != nil {
			return "", fmt.Errorf("prompt for %s: %w", keyringKey, err)
		}
		if err := StoreSecret(keyringKey, val); err != nil {
			return val, nil // still usable this run even if the keyring write failed
		}
		return val, nil
	}
	return "", fmt.Errorf("no value found for %s (checked config, %s, and OS keyring)", keyringKey, envVar)
}

// StoreSecret saves a secret to the OS keyring.
func StoreSecret(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(keyringService, key)
}
