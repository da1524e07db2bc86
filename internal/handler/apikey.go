package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/pkg/httpmiddleware"
)

// APIKeyVerifier checks staff API keys against their stored HMAC-SHA256
// hashes and requires scope on the matching key.
func APIKeyVerifier(keys auth.APIKeyRepository, pepper []byte, scope string) httpmiddleware.KeyVerifier {
	return func(ctx context.Context, key string) error {
		hexHash := auth.HashAPIKey(pepper, key)

		info, err := keys.FindByHash(ctx, hexHash)
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			return httpmiddleware.ErrInvalidAPIKey
		}
		if err != nil {
			return errors.Wrap(err, "find api key")
		}

		// The repository may return a row whose hash differs from the lookup.
		stored, err := hex.DecodeString(info.KeyHash)
		if err != nil {
			return httpmiddleware.ErrInvalidAPIKey
		}
		computed, _ := hex.DecodeString(hexHash)
		if subtle.ConstantTimeCompare(computed, stored) != 1 {
			return httpmiddleware.ErrInvalidAPIKey
		}

		if scope != "" && !info.HasScope(scope) {
			return httpmiddleware.ErrForbidden
		}
		return nil
	}
}
