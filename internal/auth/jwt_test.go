package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService("test-secret")

	tests := []struct {
		name     string
		personID string
		wantErr  error
	}{
		{name: "valid person", personID: "person-123", wantErr: nil},
		{name: "empty person", personID: "", wantErr: ErrEmptyPersonID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.personID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GenerateAccessToken() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	svc := NewJWTService("test-secret")

	validToken, err := svc.GenerateAccessToken("person-123")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("valid access token", func(t *testing.T) {
		claims, err := svc.ValidateToken(validToken)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v", err)
		}
		if claims.Subject != "person-123" {
			t.Errorf("ValidateToken() subject = %v, want person-123", claims.Subject)
		}
		if claims.Type != TokenTypeAccess {
			t.Errorf("ValidateToken() type = %v, want access", claims.Type)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := svc.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService("other-secret")
		if _, err := other.ValidateToken(validToken); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		// Expired well past any leeway.
		now := time.Now().Add(-2 * time.Hour)
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "person-123",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			},
			Type: TokenTypeAccess,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.ValidateToken(signed); !errors.Is(err, ErrExpiredToken) {
			t.Errorf("ValidateToken() error = %v, want ErrExpiredToken", err)
		}
	})

	t.Run("rejects non-HS256 signing", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "person-123"},
			Type:             TokenTypeAccess,
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	svc := NewJWTService("test-secret")

	token, err := svc.GenerateRefreshToken("person-123")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Type != TokenTypeRefresh {
		t.Errorf("type = %v, want refresh", claims.Type)
	}
	if claims.Subject != "person-123" {
		t.Errorf("subject = %v, want person-123", claims.Subject)
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < RefreshTokenExpiry-time.Minute || remaining > RefreshTokenExpiry {
		t.Errorf("refresh expiry = %v, want about %v", remaining, RefreshTokenExpiry)
	}

	if _, err := svc.GenerateRefreshToken(""); !errors.Is(err, ErrEmptyPersonID) {
		t.Errorf("GenerateRefreshToken(\"\") error = %v, want ErrEmptyPersonID", err)
	}
}

func TestDualKeyRotation(t *testing.T) {
	oldSvc := NewJWTService("old-secret")
	oldToken, err := oldSvc.GenerateAccessToken("person-123")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("previous secret still validates", func(t *testing.T) {
		rotated := NewJWTServiceWithRotation("new-secret", "old-secret")
		claims, err := rotated.ValidateToken(oldToken)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v, want old-secret token accepted during rotation", err)
		}
		if claims.Subject != "person-123" {
			t.Errorf("subject = %v", claims.Subject)
		}
	})

	t.Run("new tokens signed with current secret", func(t *testing.T) {
		rotated := NewJWTServiceWithRotation("new-secret", "old-secret")
		newToken, err := rotated.GenerateAccessToken("person-456")
		if err != nil {
			t.Fatal(err)
		}
		current := NewJWTService("new-secret")
		if _, err := current.ValidateToken(newToken); err != nil {
			t.Errorf("token not signed with current secret: %v", err)
		}
	})

	t.Run("rotation finished drops old tokens", func(t *testing.T) {
		finished := NewJWTServiceWithRotation("new-secret", "")
		if _, err := finished.ValidateToken(oldToken); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() error = %v, want ErrInvalidToken after rotation", err)
		}
	})
}

func TestLeeway(t *testing.T) {
	// Token expired 10 seconds ago, leeway 30 seconds: still valid.
	svc := NewJWTServiceWithLeeway("test-secret", 30*time.Second)
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "person-123",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Type: TokenTypeAccess,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ValidateToken(signed); err != nil {
		t.Errorf("ValidateToken() error = %v, want leeway to cover recent expiry", err)
	}

	strict := NewJWTServiceWithLeeway("test-secret", 0)
	if _, err := strict.ValidateToken(signed); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("ValidateToken() error = %v, want ErrExpiredToken without leeway", err)
	}
}
