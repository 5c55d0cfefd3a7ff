package kyc

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/types"
)

const (
	msgLinked      = "Thank you! KYC linked successfully!"
	msgBasketDone  = "Thank you! Your transaction has been completed successfully"
	msgLinkFailure = "Uh oh.. KYC linking failed, Please try again!"
)

// LinkCallback carries the query parameters Kite appends to the redirect.
type LinkCallback struct {
	Action       string `form:"action"`
	UUID         string `form:"uuid"`
	Type         string `form:"type"`
	Status       string `form:"status"`
	RequestToken string `form:"request_token"`
}

// LinkResult is shown to the user on the redirect landing page.
type LinkResult struct {
	Success bool
	Message string
}

func (r LinkResult) Result() string {
	if r.Success {
		return "Success"
	}
	return "Failure"
}

func failedLink() LinkResult {
	return LinkResult{Message: msgLinkFailure}
}

// LoginURL returns the Kite login URL that sends the user back with their
// UUID in the redirect params.
func (s *Service) LoginURL(user *types.User) string {
	return s.broker.LoginURL(url.Values{"uuid": {user.UUID}}.Encode())
}

// CompleteLink handles the broker redirect after login. On success it
// replaces any earlier credential of the user with the new session.
func (s *Service) CompleteLink(ctx context.Context, cb LinkCallback) LinkResult {
	logger := log.With().
		Str("uuid", cb.UUID).
		Str("action", cb.Action).
		Str("status", cb.Status).
		Str("service", "kyc").
		Logger()

	if cb.Action == "basket" {
		return LinkResult{Success: true, Message: msgBasketDone}
	}
	if cb.UUID == "" || cb.Status == "cancelled" {
		return failedLink()
	}
	if cb.Action == "" || cb.Type == "" || cb.RequestToken == "" || cb.Status != "success" {
		return failedLink()
	}

	user, err := s.db.GetUserByUUID(ctx, cb.UUID)
	if err != nil || user == nil {
		logger.Warn().Err(err).Msg("redirect for unknown user")
		return failedLink()
	}

	session, err := s.broker.GenerateSession(cb.RequestToken)
	if err != nil {
		logger.Error().Err(err).Msg("failed to generate broker session")
		return failedLink()
	}

	marginCtx, cancel := context.WithTimeout(ctx, s.timeout)
	margins, err := s.broker.Margins(marginCtx, session.AccessToken)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read margins for new session")
		return failedLink()
	}

	cred := &types.BrokerCredential{
		UserID:       user.ID,
		BrokerUserID: session.BrokerUserID,
		UserName:     session.UserName,
		Email:        session.Email,
		Broker:       session.Broker,
		APIKey:       session.APIKey,
		AccessToken:  session.AccessToken,
		PublicToken:  session.PublicToken,
		RefreshToken: session.RefreshToken,
		Funds:        margins.Equity.Available.Cash,
		LoginTime:    time.Now(),
		Meta:         types.Document(session.Raw),
	}
	if err := s.db.ReplaceCredential(ctx, cred); err != nil {
		logger.Error().Err(err).Msg("failed to store broker credential")
		return failedLink()
	}

	logger.Info().Uint("user_id", user.ID).Msg("broker account linked")
	return LinkResult{Success: true, Message: msgLinked}
}

// RefreshFunds reads the available cash from Kite and stores the snapshot.
func (s *Service) RefreshFunds(ctx context.Context, userID uint) (float64, error) {
	cred, err := s.db.GetCredential(ctx, userID)
	if err != nil {
		return 0, err
	}
	if cred == nil {
		return 0, ErrKYCRequired
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	margins, err := s.broker.Margins(ctx, cred.AccessToken)
	if err != nil {
		log.Info().Err(err).Uint("user_id", userID).Str("service", "kyc").Msg("funds refresh rejected")
		return 0, ErrKYCRequired
	}

	cash := margins.Equity.Available.Cash
	if err := s.db.UpdateFunds(ctx, userID, cash); err != nil {
		return 0, err
	}
	return cash, nil
}
