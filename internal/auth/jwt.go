package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// JWTConfig configures both the verifier and the issuer.
type JWTConfig struct {
	Algorithm      string        // HS256, RS256
	Secret         string        // HMAC secret (HS256 verify+issue)
	PublicKeyFile  string        // RSA public key file (RS256 verify)
	PrivateKeyFile string        // RSA private key file (RS256 issue)
	Issuer         string        // iss claim, validated on verify, stamped on issue
	TTL            time.Duration // token lifetime minted by Issue
}

// JWTAuthenticator validates bearer JWTs presented in the Authorization header.
type JWTAuthenticator struct {
	algorithm string
	hmacKey   []byte
	rsaPubKey *rsa.PublicKey
	issuer    string
}

// NewJWTAuthenticator builds a verifier from cfg.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	a := &JWTAuthenticator{algorithm: cfg.Algorithm, issuer: cfg.Issuer}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("JWT secret required for HS256")
		}
		a.hmacKey = []byte(cfg.Secret)
	case "RS256":
		if cfg.PublicKeyFile == "" {
			return nil, fmt.Errorf("public key file required for RS256")
		}
		pub, err := loadRSAPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load public key: %w", err)
		}
		a.rsaPubKey = pub
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return a, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) *Identity {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return nil
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := a.validateToken(token)
	if err != nil {
		return nil
	}

	subject := "unknown"
	if sub, ok := claims["sub"].(string); ok {
		subject = sub
	}
	tier := "default"
	if t, ok := claims["tier"].(string); ok {
		tier = t
	}

	return &Identity{Subject: "user:" + subject, Tier: tier, Claims: claims}
}

func (a *JWTAuthenticator) validateToken(tokenStr string) (map[string]any, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}
	headerB64, payloadB64, signatureB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64URLDecode(headerB64)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg != a.algorithm {
		return nil, fmt.Errorf("algorithm mismatch: expected %s, got %s", a.algorithm, header.Alg)
	}

	signature, err := base64URLDecode(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	signingInput := headerB64 + "." + payloadB64
	if err := a.verifySignature(signingInput, signature); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}

	payloadBytes, err := base64URLDecode(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	now := time.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < now {
		return nil, fmt.Errorf("token expired")
	}
	if nbf, ok := claims["nbf"].(float64); ok && int64(nbf) > now {
		return nil, fmt.Errorf("token not yet valid")
	}
	if a.issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok {
			return nil, fmt.Errorf("missing issuer claim")
		}
		if iss != a.issuer {
			return nil, fmt.Errorf("issuer mismatch")
		}
	}

	return claims, nil
}

func (a *JWTAuthenticator) verifySignature(input string, signature []byte) error {
	switch a.algorithm {
	case "HS256":
		return verifyHS256(a.hmacKey, input, signature)
	case "RS256":
		hashed := sha256.Sum256([]byte(input))
		return rsa.VerifyPKCS1v15(a.rsaPubKey, crypto.SHA256, hashed[:], signature)
	default:
		return fmt.Errorf("unsupported algorithm")
	}
}

func verifyHS256(key []byte, input string, signature []byte) error {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(input))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// JWTIssuer mints bearer tokens for the POST /auth endpoint. Kept separate
// from JWTAuthenticator so a Gateway deployment that only verifies tokens
// minted elsewhere (a shared IdP) need not carry signing key material.
type JWTIssuer struct {
	algorithm  string
	hmacKey    []byte
	rsaPrivKey *rsa.PrivateKey
	issuer     string
	ttl        time.Duration
}

// NewJWTIssuer builds an issuer from cfg. RS256 issuance requires PrivateKeyFile.
func NewJWTIssuer(cfg JWTConfig) (*JWTIssuer, error) {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	iss := &JWTIssuer{algorithm: cfg.Algorithm, issuer: cfg.Issuer, ttl: ttl}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("JWT secret required for HS256")
		}
		iss.hmacKey = []byte(cfg.Secret)
	case "RS256":
		if cfg.PrivateKeyFile == "" {
			return nil, fmt.Errorf("private key file required for RS256 issuance")
		}
		priv, err := loadRSAPrivateKey(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		iss.rsaPrivKey = priv
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return iss, nil
}

// Issue mints a signed token for subject with the issuer's configured TTL,
// merging extraClaims (e.g. "tier") into the payload.
func (iss *JWTIssuer) Issue(subject string, extraClaims map[string]any) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(iss.ttl).Unix(),
	}
	if iss.issuer != "" {
		claims["iss"] = iss.issuer
	}
	for k, v := range extraClaims {
		claims[k] = v
	}

	headerBytes, err := json.Marshal(map[string]string{"alg": iss.algorithm, "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64URLEncode(headerBytes) + "." + base64URLEncode(payloadBytes)

	var signature []byte
	switch iss.algorithm {
	case "HS256":
		mac := hmac.New(sha256.New, iss.hmacKey)
		mac.Write([]byte(signingInput))
		signature = mac.Sum(nil)
	case "RS256":
		hashed := sha256.Sum256([]byte(signingInput))
		signature, err = rsa.SignPKCS1v15(rand.Reader, iss.rsaPrivKey, crypto.SHA256, hashed[:])
		if err != nil {
			return "", fmt.Errorf("sign token: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported algorithm")
	}

	return signingInput + "." + base64URLEncode(signature), nil
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}
