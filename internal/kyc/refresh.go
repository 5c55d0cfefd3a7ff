package kyc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/types"
)

// Refresh renews cred's access token with its refresh token. It returns false
// on any broker or storage failure and never writes a partial rotation. When
// a concurrent refresh already rotated the tokens, the newer stored session
// is accepted instead of rotating a second time.
func (s *Service) Refresh(ctx context.Context, cred *types.BrokerCredential) bool {
	logger := log.With().
		Uint("user_id", cred.UserID).
		Str("service", "kyc").
		Logger()

	if cred.RefreshToken == "" {
		logger.Info().Msg("no refresh token stored, cannot renew session")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tokens, err := s.broker.RenewAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		logger.Warn().Err(err).Msg("broker token refresh failed")
		return false
	}

	rotated, err := s.db.RotateTokens(ctx, cred.UserID, cred.AccessToken, tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist refreshed tokens")
		return false
	}

	if !rotated {
		current, err := s.db.GetCredential(ctx, cred.UserID)
		if err != nil || current == nil {
			logger.Warn().Err(err).Msg("credential vanished during refresh")
			return false
		}
		logger.Info().Msg("session already rotated by a concurrent refresh")
		*cred = *current
		return current.AccessToken != ""
	}

	cred.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		cred.RefreshToken = tokens.RefreshToken
	}

	logger.Info().Msg("broker session refreshed")
	return true
}
