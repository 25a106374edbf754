package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

const (
	testAlias  = "Ab3xYz9KmNpQrStU"
	testSecret = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789AB"
)

func newTestCodec() *Codec {
	return NewCodec(WithCost(bcrypt.MinCost))
}

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	raw := Scheme + testAlias + "_" + testSecret
	if len(raw) != Length {
		t.Fatalf("test token has length %d, want %d", len(raw), Length)
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Alias != testAlias {
		t.Errorf("Alias = %q, want %q", parsed.Alias, testAlias)
	}
	if parsed.Secret != testSecret {
		t.Errorf("Secret = %q, want %q", parsed.Secret, testSecret)
	}
	if parsed.Prefix() != "abcdefgh" {
		t.Errorf("Prefix() = %q, want %q", parsed.Prefix(), "abcdefgh")
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	valid := Scheme + testAlias + "_" + testSecret

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"wrong scheme", "nat_" + testAlias + "_" + testSecret},
		{"uppercase scheme", "NAF_" + testAlias + "_" + testSecret},
		{"short alias", Scheme + testAlias[:15] + "_" + testSecret + "A"},
		{"long alias", Scheme + testAlias + "X_" + testSecret[:63]},
		{"short secret", valid[:len(valid)-1]},
		{"long secret", valid + "A"},
		{"missing separator", Scheme + testAlias + "-" + testSecret},
		{"dash in secret", Scheme + testAlias + "_" + testSecret[:10] + "-" + testSecret[11:]},
		{"underscore in alias", Scheme + testAlias[:5] + "_" + testAlias[6:] + "_" + testSecret},
		{"space in secret", Scheme + testAlias + "_" + testSecret[:63] + " "},
		{"non-ascii in alias", Scheme + "Ab3xYz9KmNpQrSté" + "_" + testSecret[:63]},
		{"bearer prefix left in", "Bearer " + valid},
		{"trailing newline", valid[:len(valid)-1] + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.raw)
			if !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidFormat", tt.raw, err)
			}
		})
	}
}

func TestGenerate_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	for i := 0; i < 20; i++ {
		raw, stored, err := codec.Generate("")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		parsed, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(generated) error = %v", err)
		}
		if parsed.Alias != stored.Alias {
			t.Errorf("Alias = %q, stored %q", parsed.Alias, stored.Alias)
		}
		if parsed.Prefix() != stored.Prefix {
			t.Errorf("Prefix = %q, stored %q", parsed.Prefix(), stored.Prefix)
		}
		if !codec.Verify(raw, stored.Hash) {
			t.Fatal("Verify(generated) = false, want true")
		}
		if strings.Contains(stored.Hash, parsed.Secret) {
			t.Error("stored hash contains the secret")
		}
	}
}

func TestGenerate_ReusesAlias(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	raw1, stored1, err := codec.Generate(testAlias)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	raw2, stored2, err := codec.Generate(testAlias)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if stored1.Alias != testAlias || stored2.Alias != testAlias {
		t.Errorf("aliases = %q, %q, want %q", stored1.Alias, stored2.Alias, testAlias)
	}
	if raw1 == raw2 {
		t.Error("two generations produced the same token")
	}
	if codec.Verify(raw1, stored2.Hash) {
		t.Error("first token verifies against second hash")
	}
}

func TestGenerate_InvalidAlias(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	for _, alias := range []string{"short", "has_underscore__", "Ab3xYz9KmNpQrStUV"} {
		if _, _, err := codec.Generate(alias); err == nil {
			t.Errorf("Generate(%q) expected error", alias)
		}
	}
}

func TestGenerate_RandomFailure(t *testing.T) {
	t.Parallel()

	codec := NewCodec(WithCost(bcrypt.MinCost), WithRandom(bytes.NewReader(nil)))

	if _, _, err := codec.Generate(""); err == nil {
		t.Fatal("Generate() expected error from exhausted random source")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	raw, stored, err := codec.Generate(testAlias)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Same alias and prefix, different tail.
	last := raw[len(raw)-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	tampered := raw[:len(raw)-1] + string(replacement)

	if codec.Verify(tampered, stored.Hash) {
		t.Error("Verify(tampered) = true, want false")
	}
	if codec.Verify(raw, "not-a-bcrypt-hash") {
		t.Error("Verify(garbage hash) = true, want false")
	}
}

func TestRandomString_Charset(t *testing.T) {
	t.Parallel()

	// All 0xFF bytes are rejected, the rest map into the alphabet.
	src := bytes.Repeat([]byte{0xFF, 0x00, 0x3D, 0x3E}, 64)
	codec := NewCodec(WithRandom(bytes.NewReader(src)))

	got, err := codec.randomString(16)
	if err != nil {
		t.Fatalf("randomString() error = %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if !isAlnum(got, 16) {
		t.Errorf("randomString() = %q contains non-alphanumeric characters", got)
	}
	if got[:3] != "A9A" {
		t.Errorf("randomString() = %q, want prefix %q", got, "A9A")
	}
}
