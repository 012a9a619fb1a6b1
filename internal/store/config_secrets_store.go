package store

import "context"

// ConfigSecretsStore manages encrypted config secrets (managed mode only).
// Used for non-LLM secrets: serve token, Brave API key, S3 credentials, etc.
type ConfigSecretsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}
