package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/shopspring/decimal"
)

// RelayService relays gasless operations co-signed by the application.
// The signer identity is only ever used to check and produce app signatures,
// the submitter identity only ever pays for and sends transactions.
type RelayService struct {
	signer    ports.SignerIdentity
	submitter ports.SubmitterIdentity
	eventPub  ports.EventPublisher
	log       *slog.Logger
	timeout   time.Duration
}

// NewRelayService creates a relay service. A nil signer or submitter leaves
// the service constructed but unavailable.
func NewRelayService(
	signer ports.SignerIdentity,
	submitter ports.SubmitterIdentity,
	eventPub ports.EventPublisher,
	log *slog.Logger,
) *RelayService {
	if log == nil {
		log = slog.Default()
	}

	return &RelayService{
		signer:    signer,
		submitter: submitter,
		eventPub:  eventPub,
		log:       log,
	}
}

// WithTimeout bounds the verification and submission of a single edit
func (s *RelayService) WithTimeout(d time.Duration) *RelayService {
	s.timeout = d
	return s
}

// Available reports whether both identities are configured
func (s *RelayService) Available() bool {
	return s.signer != nil && s.submitter != nil
}

// SubmitEdit verifies the application signature over the typed data and, only
// if it holds, submits the edit through the submitter identity.
func (s *RelayService) SubmitEdit(ctx context.Context, session *core.Session, req *core.RelayRequest) (common.Hash, error) {
	if !session.Authenticated() {
		return common.Hash{}, core.ErrUnauthenticated
	}
	if s.signer == nil || s.submitter == nil {
		return common.Hash{}, core.ErrRelayUnavailable
	}
	if req.ChainID != 0 && req.ChainID != s.submitter.ChainID() {
		return common.Hash{}, fmt.Errorf("%w: %d", core.ErrChainMismatch, req.ChainID)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	valid, err := s.submitter.VerifyTypedData(ctx, s.signer.Address(), req.SignTypedDataParams, req.AppSignature)
	if err != nil {
		s.recordResult(ctx, "verify_error", session, err)
		return common.Hash{}, fmt.Errorf("%w: verify app signature: %w", core.ErrSubmissionFailed, err)
	}
	if !valid {
		s.log.Info("relay.invalid_app_signature", "author", session.Address, "signer", s.signer.Address().Hex())
		return common.Hash{}, core.ErrInvalidAppSignature
	}

	// Nothing has been sent yet, so a cancelled request can still back out cleanly.
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}

	txHash, err := s.submitter.SubmitEdit(ctx, req.Edit, req.AuthorSignature, req.AppSignature)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.recordResult(ctx, "unknown_outcome", session, err)
		} else {
			s.recordResult(ctx, "submit_error", session, err)
		}
		return common.Hash{}, fmt.Errorf("%w: %w", core.ErrSubmissionFailed, err)
	}

	s.log.Info("relay.submitted",
		"author", session.Address,
		"submitter", s.submitter.Address().Hex(),
		"tx_hash", txHash.Hex(),
	)

	event := ports.RelaySubmitted{
		Author:    session.Address,
		Submitter: s.submitter.Address().Hex(),
		ChainID:   s.submitter.ChainID(),
		TxHash:    txHash.Hex(),
	}
	if err := s.eventPub.PublishRelaySubmitted(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("relay.event_failed", "tx_hash", txHash.Hex(), "error", err)
	}

	return txHash, nil
}

// Authorize produces the application signature over typed data prepared for
// an authenticated author.
func (s *RelayService) Authorize(ctx context.Context, session *core.Session, data apitypes.TypedData) ([]byte, common.Address, error) {
	if !session.Authenticated() {
		return nil, common.Address{}, core.ErrUnauthenticated
	}
	if s.signer == nil {
		return nil, common.Address{}, core.ErrRelayUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, common.Address{}, err
	}

	sig, err := s.signer.SignTypedData(data)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to sign typed data: %w", err)
	}

	return sig, s.signer.Address(), nil
}

// Status describes the relay configuration. A failing balance lookup leaves
// the balance empty but does not make the relay unavailable.
func (s *RelayService) Status(ctx context.Context) core.RelayStatus {
	if !s.Available() {
		return core.RelayStatus{Available: false}
	}

	status := core.RelayStatus{
		Available: true,
		ChainID:   s.submitter.ChainID(),
		Signer:    s.signer.Address().Hex(),
		Submitter: s.submitter.Address().Hex(),
	}

	wei, err := s.submitter.Balance(ctx)
	if err != nil {
		s.log.Warn("relay.balance_failed", "submitter", status.Submitter, "error", err)
		return status
	}
	status.SubmitterBalance = decimal.NewFromBigInt(wei, -18).String()

	return status
}

func (s *RelayService) recordResult(ctx context.Context, result string, session *core.Session, err error) {
	s.log.ErrorContext(ctx, "relay.failed", "result", result, "author", session.Address, "error", err)
}
