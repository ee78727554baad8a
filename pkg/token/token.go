package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/open-workshop/storage/pkg/types"
)

var (
	// ErrNoSecret is returned when the transfer JWT secret is not configured.
	ErrNoSecret = errors.New("transfer token secret is not configured")
	// ErrInvalidToken covers bad signature, wrong audience and expiry.
	ErrInvalidToken = errors.New("invalid transfer token")
)

// Token audiences and the issuer used on callback egress.
const (
	AudienceStorage = "storage"
	AudienceManager = "manager"
	Issuer          = "storage"
)

// Names of the static operator tokens carried in configuration.
const (
	TokenUpload = "upload_file"
	TokenDelete = "delete_file"
	TokenManage = "storage_manage_token"
)

// DefaultCallbackTTL bounds the validity of signed callback tokens.
const DefaultCallbackTTL = 600 * time.Second

// TransferClaims is the payload of a signed transfer token. CallbackContext
// is opaque to the storage service and returned verbatim in the completion
// callback.
type TransferClaims struct {
	JobID           string             `json:"job_id"`
	DownloadURL     string             `json:"download_url,omitempty"`
	Filename        string             `json:"filename,omitempty"`
	MaxBytes        int64              `json:"max_bytes,omitempty"`
	PackFormat      string             `json:"pack_format,omitempty"`
	PackLevel       *int               `json:"pack_level,omitempty"`
	ModID           int64              `json:"mod_id,omitempty"`
	TransferKind    types.TransferKind `json:"transfer_kind,omitempty"`
	StorageType     string             `json:"storage_type,omitempty"`
	FileKind        string             `json:"file_kind,omitempty"`
	TargetPath      string             `json:"target_path,omitempty"`
	CallbackAction  string             `json:"callback_action,omitempty"`
	CallbackContext map[string]any     `json:"callback_context,omitempty"`
	UpdateOnly      bool               `json:"update_only,omitempty"`
	jwt.RegisteredClaims
}

// Level returns the effective pack level, clamped to [0..9], defaulting when
// the claim is absent.
func (c *TransferClaims) Level() int {
	if c.PackLevel == nil {
		return types.DefaultPackLevel
	}
	lvl := *c.PackLevel
	if lvl < 0 {
		return 0
	}
	if lvl > 9 {
		return 9
	}
	return lvl
}

// Codec signs and verifies transfer tokens with a process-wide HS256 secret.
// The zero secret fails closed on both directions.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec for the given shared secret. An empty secret is
// allowed; Sign and Decode then return ErrNoSecret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// HasSecret reports whether the codec can sign and verify at all.
func (c *Codec) HasSecret() bool {
	return len(c.secret) > 0
}

// Sign stamps claims with audience, issuer and expiry and returns the
// compact serialized token.
func (c *Codec) Sign(claims *TransferClaims, aud string, ttl time.Duration) (string, error) {
	if !c.HasSecret() {
		return "", ErrNoSecret
	}
	now := c.now()
	claims.Audience = jwt.ClaimStrings{aud}
	claims.Issuer = Issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Decode verifies signature, audience and expiry and returns the claims.
// Any verification failure is reported as ErrInvalidToken.
func (c *Codec) Decode(tokenStr, aud string) (*TransferClaims, error) {
	if !c.HasSecret() {
		return nil, ErrNoSecret
	}
	claims := &TransferClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(aud),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Static verifies the long-lived operator tokens. Configuration carries one
// bcrypt hash per token name; an unknown name always denies.
type Static struct {
	hashes map[string]string
}

// NewStatic creates the static token verifier over name -> bcrypt hash.
func NewStatic(hashes map[string]string) *Static {
	if hashes == nil {
		hashes = map[string]string{}
	}
	return &Static{hashes: hashes}
}

// Check compares the presented token against the stored hash for name.
func (s *Static) Check(name, presented string) bool {
	hash, ok := s.hashes[name]
	if !ok || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}

// HashToken produces a bcrypt hash suitable for the static token map.
func HashToken(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
