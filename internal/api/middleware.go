/**
 * @description
 * This file contains the authentication middleware for the HTTP router. It
 * validates JWT bearer tokens against the identity provider's JWKS endpoint
 * and places the verified caller identity on the request context.
 *
 * @dependencies
 * - context, crypto/rsa, net/http: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CallerIDContextKey is a custom type for the context key to avoid collisions.
type CallerIDContextKey string

const callerIDKey CallerIDContextKey = "callerID"

// AuthOptions configures token validation. Audience and Issuer are optional;
// when empty the corresponding claim is not enforced.
type AuthOptions struct {
	JWKSURL  string
	Audience string
	Issuer   string
}

// AuthMiddleware validates JWT bearer tokens issued by the platform's identity
// provider. The verified `sub` claim is the caller's ledger identity and is the
// only identity the handlers trust.
func AuthMiddleware(opts AuthOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				publicKey, err := fetchSigningKey(opts.JWKSURL, kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}
				return publicKey, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			if opts.Audience != "" {
				if aud, ok := claims["aud"].(string); !ok || aud != opts.Audience {
					http.Error(w, "Invalid audience", http.StatusUnauthorized)
					return
				}
			}
			if opts.Issuer != "" {
				if iss, ok := claims["iss"].(string); !ok || iss != opts.Issuer {
					http.Error(w, "Invalid issuer", http.StatusUnauthorized)
					return
				}
			}

			callerID, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "Caller identity not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerIDKey, callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// jwk is the subset of an RFC 7517 key entry needed to rebuild an RSA public key.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchSigningKey resolves a key id against the identity provider's JWKS
// endpoint.
// TODO: cache the JWKS document; every cold validation currently refetches it.
func fetchSigningKey(jwksURL, kid string) (*rsa.PublicKey, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(jwksURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	for _, key := range doc.Keys {
		if key.Kid == kid {
			return rsaPublicKeyFromJWK(key)
		}
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

// rsaPublicKeyFromJWK rebuilds an RSA public key from the base64url modulus
// and exponent of a JWK entry.
func rsaPublicKeyFromJWK(key jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

// GetCallerID retrieves the authenticated caller's identity from the request
// context. Handlers should use this function to get the caller's ledger id.
func GetCallerID(ctx context.Context) (string, bool) {
	callerID, ok := ctx.Value(callerIDKey).(string)
	return callerID, ok
}
