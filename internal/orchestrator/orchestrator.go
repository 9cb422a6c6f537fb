// Package orchestrator drives a challenge-flow transfer: it issues and checks tiered challenge
// codes (or the single email code), and settles the transfer once every challenge is satisfied.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"custodial-ledger/backend/internal/challenge"
	challengedomain "custodial-ledger/backend/internal/challenge/domain"
	"custodial-ledger/backend/internal/errs"
	ledgerdomain "custodial-ledger/backend/internal/ledger/domain"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/mfa"
	"custodial-ledger/backend/internal/notify"
	"custodial-ledger/backend/internal/store"
	"custodial-ledger/backend/internal/telemetry"
	"custodial-ledger/backend/internal/transfer"
	transferdomain "custodial-ledger/backend/internal/transfer/domain"
)

// NextEmail is reported as the next requirement in single-code mode.
const NextEmail = "email"

// devCodeRetention is how long a tiered challenge code stays readable through the dev code store.
const devCodeRetention = 24 * time.Hour

// Status is the outcome of an Advance call.
type Status string

const (
	StatusAwaiting Status = "awaiting"
	StatusSettled  Status = "settled"
)

// Request is one challenge-flow call. Codes holds the tiered codes the caller already has.
type Request struct {
	PrincipalID string
	DeviceID    string
	Codes       map[challengedomain.Kind]string
	EmailCode   string
	Resend      bool
	Intent      transfer.Intent
}

// Result reports either the next challenge that was issued or the settled transfer.
type Result struct {
	Status Status
	// NextRequired is the tiered kind ("tax", "activation", "imf") or NextEmail.
	NextRequired  string
	CodeExpiresAt *time.Time
	Transfer      *transferdomain.Transfer
}

// Deps are the collaborators of an Orchestrator. Dispatcher, Telemetry and Log may be nil.
type Deps struct {
	Store      store.Store
	Locker     lock.Locker
	Challenges *challenge.Store
	EmailCodes *mfa.EmailCodes
	Transfers  *transfer.Service
	Dispatcher *notify.Dispatcher
	Telemetry  *telemetry.Recorder
	Log        *zap.Logger
}

// Orchestrator implements Advance.
type Orchestrator struct {
	store      store.Store
	locker     lock.Locker
	challenges *challenge.Store
	emailCodes *mfa.EmailCodes
	transfers  *transfer.Service
	dispatcher *notify.Dispatcher
	telemetry  *telemetry.Recorder
	log        *zap.Logger
}

// New returns an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.EmailCodes == nil {
		d.EmailCodes = mfa.NewEmailCodes(0, 0)
	}
	return &Orchestrator{
		store:      d.Store,
		locker:     d.Locker,
		challenges: d.Challenges,
		emailCodes: d.EmailCodes,
		transfers:  d.Transfers,
		dispatcher: d.Dispatcher,
		telemetry:  d.Telemetry,
		log:        d.Log,
	}
}

// advance collects what a transaction produced; it is acted on after commit and unlock.
type advance struct {
	result  Result
	outbox  []notify.Message
	events  []telemetry.Event
	settled *transferdomain.Transfer
}

// Advance moves the caller one step through the challenge flow. In tiered mode it verifies every
// supplied code in order and issues at most one new challenge; in single-code mode it issues or
// redeems the account-wide email code. When nothing is left to verify, the transfer settles.
// A rejected code rolls back the whole call.
func (o *Orchestrator) Advance(ctx context.Context, req Request) (*Result, error) {
	device := strings.TrimSpace(req.DeviceID)
	if device == "" {
		return nil, errs.ErrDeviceRequired
	}
	repos := o.store.Repos()
	acct, err := repos.Accounts.GetByPrincipal(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account for principal: %w", errs.ErrNotFound)
	}
	if err := acct.CanTransact(); err != nil {
		return nil, err
	}
	if err := req.Intent.Validate(); err != nil {
		return nil, err
	}
	recipient, err := transfer.ResolveRecipient(ctx, repos, acct.ID, req.Intent.Recipient)
	if err != nil {
		return nil, err
	}

	keys := append([]string{lock.ChallengeKey(acct.ID)}, lock.AccountKeys(acct.ID, recipient.AccountID)...)
	unlock, err := o.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	var adv advance
	err = o.store.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		adv = advance{}
		return o.advanceInTx(ctx, r, acct.ID, device, req, &adv)
	})
	unlock()
	if err != nil {
		return nil, err
	}

	o.dispatcher.Dispatch(ctx, adv.outbox...)
	for _, ev := range adv.events {
		o.telemetry.Record(ctx, ev)
	}
	if adv.settled != nil {
		o.transfers.RecordSettlement(ctx, req.PrincipalID, adv.settled)
		if adv.settled.Status == transferdomain.StatusFailed {
			return nil, errs.ErrInsufficientFunds
		}
	}
	return &adv.result, nil
}

func (o *Orchestrator) advanceInTx(ctx context.Context, r store.Repos, accountID, device string, req Request, adv *advance) error {
	acct, err := r.Accounts.GetByIDForUpdate(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return errs.ErrNotFound
	}
	if err := acct.CanTransact(); err != nil {
		return err
	}
	policy, err := r.TxPolicies.Get(ctx, acct.ID)
	if err != nil {
		return err
	}
	now := o.transfers.Now()

	var done bool
	if policy != nil && policy.TieredEnabled {
		done, err = o.tiered(ctx, r, acct, device, req, now, adv)
	} else {
		done, err = o.single(ctx, r, acct, req, now, adv)
	}
	if err != nil || !done {
		return err
	}

	t, err := o.transfers.SettleInTx(ctx, r, acct, req.Intent, now)
	if err != nil {
		return err
	}
	adv.settled = t
	adv.result = Result{Status: StatusSettled, Transfer: t}
	return nil
}

// tiered verifies supplied codes in order. It reports done once every kind is verified for device
// and the record has been cleared; otherwise it issues the next missing challenge.
func (o *Orchestrator) tiered(ctx context.Context, r store.Repos, acct *ledgerdomain.Account, device string, req Request, now time.Time, adv *advance) (bool, error) {
	sess, err := o.challenges.Open(ctx, r.Challenges, acct.ID)
	if err != nil {
		return false, err
	}
	for {
		kind, pending := sess.NextRequired(true, device)
		if !pending {
			if _, err := sess.ClearIfComplete(ctx, true, device); err != nil {
				return false, err
			}
			return true, nil
		}
		submitted := strings.TrimSpace(req.Codes[kind])
		if submitted == "" {
			code, err := sess.Generate(ctx, kind)
			if err != nil {
				return false, err
			}
			adv.outbox = append(adv.outbox, notify.Message{
				Key:         notify.ChallengeKey(acct.ID, kind.String()),
				AccountID:   acct.ID,
				Destination: acct.Destination,
				Purpose:     notify.PurposeChallenge,
				Kind:        kind.String(),
				Code:        code,
				ExpiresAt:   now.Add(devCodeRetention),
			})
			adv.events = append(adv.events, telemetry.Event{Type: telemetry.EventChallengeIssued, AccountID: acct.ID, Kind: kind.String()})
			adv.result = Result{Status: StatusAwaiting, NextRequired: kind.String()}
			return false, nil
		}
		if err := sess.Verify(ctx, kind, submitted, device); err != nil {
			return false, err
		}
		adv.events = append(adv.events, telemetry.Event{Type: telemetry.EventChallengeVerified, AccountID: acct.ID, Kind: kind.String()})
	}
}

// single issues the account-wide email code when asked to resend or when none was supplied, and
// otherwise redeems it. Reports done when the code was redeemed.
func (o *Orchestrator) single(ctx context.Context, r store.Repos, acct *ledgerdomain.Account, req Request, now time.Time, adv *advance) (bool, error) {
	submitted := strings.TrimSpace(req.EmailCode)
	if req.Resend || submitted == "" {
		code, expiresAt, err := o.emailCodes.Issue(ctx, r.EmailCodes, acct.ID, now)
		if err != nil {
			return false, err
		}
		adv.outbox = append(adv.outbox, notify.Message{
			Key:         notify.EmailKey(acct.ID),
			AccountID:   acct.ID,
			Destination: acct.Destination,
			Purpose:     notify.PurposeEmailCode,
			Code:        code,
			ExpiresAt:   expiresAt,
		})
		adv.events = append(adv.events, telemetry.Event{Type: telemetry.EventChallengeIssued, AccountID: acct.ID, Kind: NextEmail})
		adv.result = Result{Status: StatusAwaiting, NextRequired: NextEmail, CodeExpiresAt: &expiresAt}
		return false, nil
	}
	if err := o.emailCodes.Redeem(ctx, r.EmailCodes, acct.ID, submitted, now); err != nil {
		return false, err
	}
	return true, nil
}
