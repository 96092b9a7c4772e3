package room

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestAccessToken_ClaimsAndSignature(t *testing.T) {
	signed, err := AccessToken("api-key", "api-secret", "bangla-demo", "agent-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("api-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		t.Fatalf("invalid token")
	}
	if claims["iss"] != "api-key" {
		t.Fatalf("iss: got %v", claims["iss"])
	}
	if claims["sub"] != "agent-1" || claims["name"] != "agent-1" {
		t.Fatalf("identity claims: sub=%v name=%v", claims["sub"], claims["name"])
	}
	video, ok := claims["video"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing video grant")
	}
	if video["room"] != "bangla-demo" {
		t.Fatalf("video.room: got %v", video["room"])
	}
	if video["roomJoin"] != true || video["canPublish"] != true || video["canSubscribe"] != true {
		t.Fatalf("video grant flags: %v", video)
	}
	exp, _ := claims.GetExpirationTime()
	if exp == nil || !exp.After(time.Now()) {
		t.Fatalf("exp not in the future: %v", exp)
	}
}

func TestAccessToken_RequiresCredentials(t *testing.T) {
	if _, err := AccessToken("", "secret", "r", "i", time.Hour); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := AccessToken("key", "", "r", "i", time.Hour); err == nil {
		t.Fatalf("expected error without api secret")
	}
}

func TestAccessToken_WrongSecretFailsVerification(t *testing.T) {
	signed, err := AccessToken("api-key", "api-secret", "r", "i", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err = jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("other-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}
