package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	apikeyPrefix = "edgefaas:apikey:"
	apikeyIndex  = "edgefaas:apikeys"
)

// APIKey is a stored API key record, rotated independently of the static
// keys map so keys can be revoked without a gateway restart.
type APIKey struct {
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	Tier      string     `json:"tier"`
	Enabled   bool       `json:"enabled"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// APIKeyAuthenticator validates the X-API-Key header (or "Authorization:
// ApiKey <key>") against a static keys map and, optionally, a Redis store
// for keys issued after deployment.
type APIKeyAuthenticator struct {
	redis      *redis.Client
	staticKeys map[string]staticKey
}

type staticKey struct {
	name string
	tier string
}

// APIKeyAuthConfig configures an APIKeyAuthenticator.
type APIKeyAuthConfig struct {
	Redis      *redis.Client // optional; nil disables the rotating key store
	StaticKeys []StaticKeyConfig
}

// StaticKeyConfig is one statically configured API key.
type StaticKeyConfig struct {
	Name string
	Key  string
	Tier string
}

// NewAPIKeyAuthenticator builds an authenticator from cfg.
func NewAPIKeyAuthenticator(cfg APIKeyAuthConfig) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{redis: cfg.Redis, staticKeys: make(map[string]staticKey, len(cfg.StaticKeys))}
	for _, k := range cfg.StaticKeys {
		tier := k.Tier
		if tier == "" {
			tier = "default"
		}
		a.staticKeys[hashAPIKey(k.Key)] = staticKey{name: k.Name, tier: tier}
	}
	return a
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) *Identity {
	key := r.Header.Get("X-Api-Key")
	if key == "" {
		if authHeader := r.Header.Get("Authorization"); len(authHeader) > 7 && authHeader[:7] == "ApiKey " {
			key = authHeader[7:]
		}
	}
	if key == "" {
		return nil
	}

	keyHash := hashAPIKey(key)

	if sk, ok := a.staticKeys[keyHash]; ok {
		return &Identity{Subject: "apikey:" + sk.name, KeyName: sk.name, Tier: sk.tier, Claims: map[string]any{"source": "static"}}
	}

	if a.redis != nil {
		if id := a.checkRedisKey(r.Context(), keyHash); id != nil {
			return id
		}
	}

	return nil
}

func (a *APIKeyAuthenticator) checkRedisKey(ctx context.Context, keyHash string) *Identity {
	data, err := a.redis.Get(ctx, apikeyPrefix+keyHash).Bytes()
	if err != nil {
		return nil
	}

	var apiKey APIKey
	if err := json.Unmarshal(data, &apiKey); err != nil {
		return nil
	}
	if !apiKey.Enabled {
		return nil
	}
	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil
	}

	tier := apiKey.Tier
	if tier == "" {
		tier = "default"
	}
	return &Identity{Subject: "apikey:" + apiKey.Name, KeyName: apiKey.Name, Tier: tier, Claims: map[string]any{"source": "redis"}}
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// APIKeyStore manages rotating API keys in Redis, independent of the
// process-lifetime static keys map.
type APIKeyStore struct {
	redis *redis.Client
}

// NewAPIKeyStore creates a store backed by client.
func NewAPIKeyStore(client *redis.Client) *APIKeyStore {
	return &APIKeyStore{redis: client}
}

// Create generates a new API key for name and returns the plaintext key —
// the only time the plaintext is ever available; only its hash is stored.
func (s *APIKeyStore) Create(ctx context.Context, name, tier string) (string, error) {
	if existing, _ := s.redis.HGet(ctx, apikeyIndex, name).Result(); existing != "" {
		return "", fmt.Errorf("API key with name %q already exists", name)
	}
	if tier == "" {
		tier = "default"
	}

	key := generateAPIKey()
	keyHash := hashAPIKey(key)
	now := time.Now()
	apiKey := APIKey{Name: name, KeyHash: keyHash, Tier: tier, Enabled: true, CreatedAt: now, UpdatedAt: now}

	data, err := json.Marshal(apiKey)
	if err != nil {
		return "", err
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, apikeyPrefix+keyHash, data, 0)
	pipe.HSet(ctx, apikeyIndex, name, keyHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the stored record for name.
func (s *APIKeyStore) Get(ctx context.Context, name string) (*APIKey, error) {
	keyHash, err := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("API key not found: %s", name)
	}
	if err != nil {
		return nil, err
	}

	data, err := s.redis.Get(ctx, apikeyPrefix+keyHash).Bytes()
	if err != nil {
		return nil, err
	}
	var apiKey APIKey
	if err := json.Unmarshal(data, &apiKey); err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// List returns every stored API key.
func (s *APIKeyStore) List(ctx context.Context) ([]*APIKey, error) {
	hashes, err := s.redis.HGetAll(ctx, apikeyIndex).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]*APIKey, 0, len(hashes))
	for _, hash := range hashes {
		data, err := s.redis.Get(ctx, apikeyPrefix+hash).Bytes()
		if err != nil {
			continue
		}
		var apiKey APIKey
		if err := json.Unmarshal(data, &apiKey); err != nil {
			continue
		}
		keys = append(keys, &apiKey)
	}
	return keys, nil
}

// Revoke disables name without deleting its record.
func (s *APIKeyStore) Revoke(ctx context.Context, name string) error {
	apiKey, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	apiKey.Enabled = false
	apiKey.UpdatedAt = time.Now()

	data, err := json.Marshal(apiKey)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, apikeyPrefix+apiKey.KeyHash, data, 0).Err()
}

// Delete permanently removes name's record.
func (s *APIKeyStore) Delete(ctx context.Context, name string) error {
	keyHash, err := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if err == redis.Nil {
		return fmt.Errorf("API key not found: %s", name)
	}
	if err != nil {
		return err
	}

	pipe := s.redis.Pipeline()
	pipe.Del(ctx, apikeyPrefix+keyHash)
	pipe.HDel(ctx, apikeyIndex, name)
	_, err = pipe.Exec(ctx)
	return err
}

func generateAPIKey() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	randomBytes := make([]byte, 24)
	rand.Read(randomBytes)
	b := make([]byte, 24)
	for i := range b {
		b[i] = charset[randomBytes[i]%byte(len(charset))]
	}
	return "sk_" + string(b)
}

// VerifyAPIKey reports whether plaintext hashes to hash, in constant time.
func VerifyAPIKey(plaintext, hash string) bool {
	computed := hashAPIKey(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
