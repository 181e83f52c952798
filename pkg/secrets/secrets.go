// Package secrets looks up named secrets on every call so rotations apply
// without a redeploy.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned when the secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Store resolves a secret by name to its UTF-8 value.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// SecretManager reads secrets from Google Secret Manager. Values are never cached.
type SecretManager struct {
	client     secretManagerClient
	projectID  string
	version    string
	ownsClient bool
}

// NewSecretManager dials Secret Manager for the given project.
func NewSecretManager(ctx context.Context, projectID, version string, opts ...option.ClientOption) (*SecretManager, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	sm := newSecretManager(client, projectID, version)
	sm.ownsClient = true
	return sm, nil
}

func newSecretManager(client secretManagerClient, projectID, version string) *SecretManager {
	if strings.TrimSpace(version) == "" {
		version = "latest"
	}
	return &SecretManager{client: client, projectID: projectID, version: version}
}

// Get fetches the configured version of the named secret.
func (s *SecretManager) Get(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secret name is required")
	}
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", s.projectID, name, s.version)
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("access secret %s: %w", name, err)
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

// Close releases the client when this store created it.
func (s *SecretManager) Close() error {
	if s.ownsClient && s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Env reads MARKETCORE_SECRET_<NAME> variables; dashes and dots become underscores.
type Env struct {
	lookup func(string) (string, bool)
}

func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

func (e *Env) Get(_ context.Context, name string) (string, error) {
	key := EnvKey(name)
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// EnvKey maps a secret name onto the variable Env reads.
func EnvKey(name string) string {
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_")
	return "MARKETCORE_SECRET_" + strings.ToUpper(replacer.Replace(strings.TrimSpace(name)))
}

// Static is an in-memory store used by tests and local tooling.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return value, nil
}
