// Package auth authenticates API callers with HS256 bearer tokens.
//
// Tokens carry the caller in the "sub" claim. Middleware verifies the
// Authorization header and stores the caller on the request context:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	mux.Handle("/api/", auth.Middleware(verifier, logger)(api))
//
// Handlers read the caller back with FromContext. When no secret is
// configured the gateway skips the middleware entirely.
package auth
