package room

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AccessToken mints a LiveKit join token signed with HMAC-SHA256. The
// 'video' grant allows joining the named room and publishing/subscribing
// audio. apiKey becomes the 'iss' claim; identity is both 'sub' and the
// display name.
func AccessToken(apiKey, apiSecret, roomName, identity string, ttl time.Duration) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("livekit api key/secret required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	jti := hex.EncodeToString(b)

	now := time.Now()
	claims := jwt.MapClaims{
		"jti":  jti,
		"iss":  apiKey,
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"sub":  identity,
		"name": identity,
		"video": map[string]interface{}{
			"room":         roomName,
			"roomJoin":     true,
			"canPublish":   true,
			"canSubscribe": true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
