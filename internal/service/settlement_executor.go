package service

import (
	"context"
	"errors"
	"fmt"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

type settlementLeg struct {
	name   string
	to     domain.AccountID
	amount uint64
}

// SettlementExecutorImpl implements ports.SettlementExecutor on top of a single-recipient
// transfer primitive. Zero-value legs are skipped.
type SettlementExecutorImpl struct {
	transfer ports.SettlementTransfer
	log      zerolog.Logger
}

// NewSettlementExecutor creates a new SettlementExecutorImpl.
func NewSettlementExecutor(transfer ports.SettlementTransfer, log zerolog.Logger) *SettlementExecutorImpl {
	return &SettlementExecutorImpl{transfer: transfer, log: log}
}

func legsOf(d ports.Disbursement) []settlementLeg {
	legs := make([]settlementLeg, 0, 2)
	if d.Amount > 0 {
		legs = append(legs, settlementLeg{name: "provider", to: d.Provider, amount: d.Amount})
	}
	if d.Fee > 0 {
		legs = append(legs, settlementLeg{name: "fee", to: d.Authority, amount: d.Fee})
	}
	return legs
}

// Disburse sends the provider leg, then the fee leg. If a leg fails, the legs already sent
// are reversed before the error is returned.
func (e *SettlementExecutorImpl) Disburse(ctx context.Context, d ports.Disbursement) error {
	legs := legsOf(d)
	for i, leg := range legs {
		ref, err := e.transfer.Transfer(ctx, leg.amount, d.From, leg.to)
		if err != nil {
			e.log.Warn().Err(err).
				Str("leg", leg.name).
				Str("from", d.From.String()).
				Str("to", leg.to.String()).
				Uint64("amount", leg.amount).
				Msg("settlement leg failed")
			if revErr := e.reverse(ctx, d.From, legs[:i]); revErr != nil {
				e.log.Error().Err(revErr).Str("from", d.From.String()).Msg("settlement compensation failed, manual reconciliation required")
			}
			return classifySettlementError(err)
		}
		e.log.Debug().Str("leg", leg.name).Str("ref", ref).Uint64("amount", leg.amount).Msg("settlement leg sent")
	}
	return nil
}

// Reverse sends every leg of d back to d.From.
func (e *SettlementExecutorImpl) Reverse(ctx context.Context, d ports.Disbursement) error {
	return e.reverse(ctx, d.From, legsOf(d))
}

// reverse undoes legs newest first and keeps going past individual failures.
func (e *SettlementExecutorImpl) reverse(ctx context.Context, from domain.AccountID, legs []settlementLeg) error {
	var errs []error
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		if _, err := e.transfer.Transfer(ctx, leg.amount, leg.to, from); err != nil {
			errs = append(errs, fmt.Errorf("reverse %s leg: %w", leg.name, err))
			continue
		}
		e.log.Info().Str("leg", leg.name).Str("to", from.String()).Uint64("amount", leg.amount).Msg("settlement leg reversed")
	}
	return errors.Join(errs...)
}

func classifySettlementError(err error) error {
	if apperror.HasCode(err, apperror.CodeInsufficientSettlementFunds) {
		return err
	}
	return apperror.ErrSettlementUnavailable(err)
}
