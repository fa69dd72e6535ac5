package label

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "shadowrt/pkg/domain-errors"
)

// Codec turns labels into header strings and back. Decode(Encode(l)) must
// equal l for every label.
type Codec interface {
	Encode(l Label) (string, error)
	Decode(header string) (Label, error)
}

// JSONCodec carries labels as plain compact JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(l Label) (string, error) {
	if l.IsZero() {
		return "", dErrors.New(dErrors.CodeNotTagged, "cannot encode an unminted label")
	}
	return l.Encode(), nil
}

func (JSONCodec) Decode(header string) (Label, error) {
	return Decode(header)
}

// JWTCodec carries labels as HS256-signed tokens so a receiving service can
// reject labels that were forged or altered in transit. Both services must
// share the secret.
type JWTCodec struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

// JWTOption configures a JWTCodec.
type JWTOption func(*JWTCodec)

// WithIssuer stamps and requires an issuer claim.
func WithIssuer(issuer string) JWTOption {
	return func(c *JWTCodec) {
		c.issuer = issuer
	}
}

// WithJWTClock sets the clock used for the issued-at claim.
func WithJWTClock(clock func() time.Time) JWTOption {
	return func(c *JWTCodec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewJWTCodec builds a signing codec. The secret must not be empty.
func NewJWTCodec(secret []byte, opts ...JWTOption) (*JWTCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("label signing secret is required")
	}
	c := &JWTCodec{secret: secret, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type labelClaims struct {
	Policies Policies `json:"policies"`
	jwt.RegisteredClaims
}

func (c *JWTCodec) Encode(l Label) (string, error) {
	if l.IsZero() {
		return "", dErrors.New(dErrors.CodeNotTagged, "cannot encode an unminted label")
	}
	claims := labelClaims{
		Policies: l.Policies(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  string(l.UserID()),
			ID:       string(l.TagID()),
			Issuer:   c.issuer,
			IssuedAt: jwt.NewNumericDate(c.clock()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign label")
	}
	return signed, nil
}

func (c *JWTCodec) Decode(header string) (Label, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var claims labelClaims
	_, err := jwt.ParseWithClaims(header, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return Label{}, dErrors.Wrap(err, dErrors.CodeMalformedLabel, "label token rejected")
	}
	return fromWire(claims.Subject, claims.ID, claims.Policies)
}
