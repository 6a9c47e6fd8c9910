package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("ops-1", RoleOperator, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops-1")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("ops-1", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(defaultTokenTTL))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL off by %v", diff)
	}
}

func TestGenerateToken_UnknownRole(t *testing.T) {
	if _, err := GenerateToken("ops-1", "owner", testSecret, time.Minute); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("GenerateToken() error = %v, want ErrTokenInvalid", err)
	}
}

// signRaw signs arbitrary claims, bypassing GenerateToken's checks.
func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "ops-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}
	}
	wrongSecret, err := GenerateToken("ops-1", RoleAdmin, "other-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := valid()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-valid-jwt"},
		{"two segments", "abc.def"},
		{"wrong secret", wrongSecret},
		{"expired", signRaw(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: expired, Role: RoleAdmin}, []byte(testSecret))},
		{"missing subject", signRaw(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: noSubject, Role: RoleAdmin}, []byte(testSecret))},
		{"unknown role", signRaw(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: valid(), Role: "owner"}, []byte(testSecret))},
		{"wrong method", signRaw(t, jwt.SigningMethodHS384, Claims{RegisteredClaims: valid(), Role: RoleAdmin}, []byte(testSecret))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, testSecret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
