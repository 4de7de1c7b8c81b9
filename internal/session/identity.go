package session

import (
	"log"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is who this session presents as to other collaborators.
type Identity struct {
	UserID    string
	UserName  string
	AvatarURL string
}

// IdentityFromToken extracts the display identity from the access token
// claims. The token is NOT verified here; the backend authenticates it on
// connect, this is only for labeling presence. A missing or unreadable token
// falls back to an anonymous identity with a random id.
func IdentityFromToken(token string) Identity {
	identity := Identity{UserID: uuid.NewString(), UserName: "Anonymous"}
	if token == "" {
		return identity
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		log.Printf("[Session] Could not read access token claims: %v", err)
		return identity
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		identity.UserID = sub
	} else if id := stringClaim(claims, "user_id"); id != "" {
		identity.UserID = id
	}
	if name := firstStringClaim(claims, "name", "user_name", "nickname"); name != "" {
		identity.UserName = name
	}
	identity.AvatarURL = firstStringClaim(claims, "avatar_url", "picture")
	return identity
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}

func firstStringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value := stringClaim(claims, key); value != "" {
			return value
		}
	}
	return ""
}
