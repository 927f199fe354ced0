package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

func mintToken(t *testing.T, claims CustomClaims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func validClaims() CustomClaims {
	now := time.Now()
	return CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
		Role:      RoleOperator,
		SessionID: "sess-1",
	}
}

func TestParseToken_Valid(t *testing.T) {
	token := mintToken(t, validClaims(), jwt.SigningMethodHS256, testSecret)

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr-1" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q", claims.Role)
	}
	if claims.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", claims.SessionID)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token := mintToken(t, validClaims(), jwt.SigningMethodHS256, testSecret)

	if _, err := ParseToken(token, "completely-different-secret-value!!"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := mintToken(t, claims, jwt.SigningMethodHS256, testSecret)

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestParseToken_RejectsWrongAlgorithm(t *testing.T) {
	// HS384-signed token must be rejected even with the right secret.
	token := mintToken(t, validClaims(), jwt.SigningMethodHS384, testSecret)

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_RejectsAlgNone(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_MissingFields(t *testing.T) {
	t.Run("missing subject", func(t *testing.T) {
		claims := validClaims()
		claims.Subject = ""
		token := mintToken(t, claims, jwt.SigningMethodHS256, testSecret)

		if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		claims := validClaims()
		claims.Role = "superuser"
		token := mintToken(t, claims, jwt.SigningMethodHS256, testSecret)

		if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("error = %v, want ErrTokenInvalid", err)
		}
	})
}

func TestParseToken_Garbage(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ParseToken(%q) error = %v, want ErrTokenInvalid", token, err)
		}
	}
}

func TestIsValidRole(t *testing.T) {
	if !IsValidRole(RoleAdmin) || !IsValidRole(RoleOperator) {
		t.Error("known roles rejected")
	}
	if IsValidRole("owner") || IsValidRole("") {
		t.Error("unknown roles accepted")
	}
}
