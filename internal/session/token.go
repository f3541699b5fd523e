package session

import (
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// tokenReuseMargin evita reusar tokens al borde de expirar: un token que
// vence en menos de esto va por el camino de credencial completa.
const tokenReuseMargin = 5 * time.Minute

// tokenUsable decide si un refresh token almacenado sirve para evitar el
// login con credencial completa. Se parsea sin verificar firma: el token
// lo emitió el remoto y acá solo interesa leer el exp.
func tokenUsable(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	parsed, _, err := jwtv5.NewParser().ParseUnverified(token, jwtv5.MapClaims{})
	if err != nil {
		return false
	}
	claims, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok {
		return false
	}
	expf, ok := claims["exp"].(float64)
	if !ok {
		// sin exp no hay forma de saber si sigue vivo
		return false
	}
	return time.Unix(int64(expf), 0).After(now.Add(tokenReuseMargin))
}
