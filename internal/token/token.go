// Package token implements the bearer token format used by API and DDNS clients.
//
// A token has the exact shape naf_<alias>_<secret> where alias is 16 and
// secret is 64 ASCII alphanumeric characters. The alias routes the token to
// its account, the first 8 characters of the secret form a non-secret prefix
// used for indexed lookups, and only a salted one-way hash of the complete
// token string is ever stored.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Scheme is the fixed literal every token starts with.
	Scheme = "naf_"
	// AliasLength is the number of characters in the alias segment.
	AliasLength = 16
	// SecretLength is the number of characters in the secret segment.
	SecretLength = 64
	// PrefixLength is the number of leading secret characters stored in clear.
	PrefixLength = 8
	// Length is the total length of a well-formed token.
	Length = len(Scheme) + AliasLength + 1 + SecretLength

	// DefaultCost is the bcrypt cost used for stored hashes.
	DefaultCost = 12

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrInvalidFormat is returned for any string that does not have the exact token shape.
var ErrInvalidFormat = errors.New("token: invalid format")

// Parsed is a syntactically valid token split into its segments.
type Parsed struct {
	Alias  string
	Secret string
}

// Prefix returns the non-secret lookup discriminator.
func (p *Parsed) Prefix() string {
	return p.Secret[:PrefixLength]
}

// Stored is what gets persisted for a token. It never contains the secret.
type Stored struct {
	Alias  string
	Prefix string
	Hash   string
}

// Codec generates, parses and verifies tokens.
type Codec struct {
	cost   int
	random io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithCost sets the bcrypt cost (tests use bcrypt.MinCost).
func WithCost(cost int) Option {
	return func(c *Codec) {
		c.cost = cost
	}
}

// WithRandom sets the randomness source. Production code keeps crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.random = r
	}
}

// NewCodec creates a Codec with bcrypt DefaultCost and crypto/rand.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		cost:   DefaultCost,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewAlias returns a fresh random alias. Aliases are generated once per
// account and never derived from the username.
func (c *Codec) NewAlias() (string, error) {
	return c.randomString(AliasLength)
}

// Generate issues a new token for the given alias. An empty alias means the
// account has never held a token and a new alias is created.
// The plaintext is returned exactly once; callers must not persist it.
func (c *Codec) Generate(alias string) (string, *Stored, error) {
	if alias == "" {
		var err error
		alias, err = c.NewAlias()
		if err != nil {
			return "", nil, err
		}
	} else if !isAlnum(alias, AliasLength) {
		return "", nil, fmt.Errorf("token: invalid alias %q", alias)
	}

	secret, err := c.randomString(SecretLength)
	if err != nil {
		return "", nil, err
	}

	raw := Scheme + alias + "_" + secret
	hash, err := c.Hash(raw)
	if err != nil {
		return "", nil, err
	}

	return raw, &Stored{
		Alias:  alias,
		Prefix: secret[:PrefixLength],
		Hash:   hash,
	}, nil
}

// Parse checks the exact token shape. It performs no I/O so malformed input
// is rejected before any store lookup can leak timing information.
func Parse(raw string) (*Parsed, error) {
	if len(raw) != Length {
		return nil, ErrInvalidFormat
	}
	if raw[:len(Scheme)] != Scheme {
		return nil, ErrInvalidFormat
	}

	rest := raw[len(Scheme):]
	alias := rest[:AliasLength]
	if rest[AliasLength] != '_' {
		return nil, ErrInvalidFormat
	}
	secret := rest[AliasLength+1:]

	if !isAlnum(alias, AliasLength) || !isAlnum(secret, SecretLength) {
		return nil, ErrInvalidFormat
	}

	return &Parsed{Alias: alias, Secret: secret}, nil
}

// Hash returns the salted one-way hash stored for a token.
// The full token is reduced with SHA-256 first because bcrypt only
// considers the first 72 input bytes.
func (c *Codec) Hash(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(raw), c.cost)
	if err != nil {
		return "", fmt.Errorf("token: hash: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether raw matches the stored hash. bcrypt performs the
// final comparison in constant time.
func (c *Codec) Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(raw)) == nil
}

func prehash(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return []byte(hex.EncodeToString(sum[:]))
}

// randomString draws n characters uniformly from alphabet using rejection
// sampling so that no character is more likely than another.
func (c *Codec) randomString(n int) (string, error) {
	const limit = 256 - 256%len(alphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(c.random, buf); err != nil {
			return "", fmt.Errorf("token: read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func isAlnum(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isAlphanumeric := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlphanumeric {
			return false
		}
	}
	return true
}
