// Package auth authenticates callers of the gateway's HTTP API.
//
// # Credentials
//
// Every /api/whatsapp request carries "Authorization: Bearer <token>". The
// token is accepted when it is either:
//
//   - the configured API key (auth.api_key), compared in constant time, or
//   - an HS256 JWT signed with auth.jwt_secret, issued by "wa-gateway",
//     with an expiry and a non-empty subject.
//
// JWT support is off unless jwt_secret is set. Tokens are minted with:
//
//	wa-gateway token --subject crm-backend --ttl 720h
//
// The same API key is sent by the gateway as the bearer credential on
// outgoing webhooks, so tenants can verify that calls come from the gateway.
//
// # Context
//
// The middleware stores an AuthContext in the request context:
//
//	authCtx := auth.FromContext(r.Context())
//	log.Info("request", "caller", authCtx.Subject, "method", authCtx.Method)
package auth
