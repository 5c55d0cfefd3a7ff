package kyc

import (
	"context"

	"github.com/rs/zerolog/log"
)

// IsLinkedAndFresh reports whether the user has a broker session that Kite
// currently accepts. A rejected session gets exactly one refresh attempt;
// its outcome is final. Broker errors and timeouts fail closed.
func (s *Service) IsLinkedAndFresh(ctx context.Context, userID uint) bool {
	logger := log.With().
		Uint("user_id", userID).
		Str("service", "kyc").
		Logger()

	cred, err := s.db.GetCredential(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load broker credential")
		return false
	}
	if cred == nil {
		logger.Debug().Msg("no broker credential linked")
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	_, err = s.broker.Margins(checkCtx, cred.AccessToken)
	cancel()
	if err == nil {
		return true
	}

	logger.Info().Err(err).Msg("broker session rejected, attempting refresh")
	return s.Refresh(ctx, cred)
}
