package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/neilotoole/slogt"
)

func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier("secret")
	good, err := v.Sign("u1", time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	expired, err := v.Sign("u1", -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	other, err := NewVerifier("other").Sign("u1", time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Sign none error: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{name: "Valid", token: good, want: "u1"},
		{name: "Expired", token: expired, wantErr: true},
		{name: "WrongSecret", token: other, wantErr: true},
		{name: "NoneAlgorithm", token: none, wantErr: true},
		{name: "NoExpiry", token: noExpiry, wantErr: true},
		{name: "Garbage", token: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Verify() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	mine, _ := v.Sign("u1", time.Hour)
	theirs, _ := v.Sign("u2", time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "OK", header: "Bearer " + mine, wantStatus: http.StatusNoContent},
		{name: "Missing", wantStatus: http.StatusUnauthorized},
		{name: "NotBearer", header: "Basic " + mine, wantStatus: http.StatusUnauthorized},
		{name: "OtherUser", header: "Bearer " + theirs, wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Middleware{
				Logger:   slogt.New(t),
				Verifier: v,
				UserID:   "u1",
				Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNoContent)
				}),
			}
			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Got status %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
