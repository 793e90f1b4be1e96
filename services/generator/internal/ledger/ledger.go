package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"postcraft/pkg/domain"
	"postcraft/pkg/store"
)

// DefaultCredits is the allotment of a freshly created account.
const DefaultCredits = 1

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrJobNotFound         = errors.New("generation job not found")
)

// Ledger meters generation credits on top of the store transaction.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) seed(uid, email string) domain.Account {
	now := l.now()
	return domain.Account{
		UID:       uid,
		Email:     strings.TrimSpace(email),
		Credits:   DefaultCredits,
		Plan:      domain.DefaultPlan,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Reserve deducts one credit from uid in a single transaction, creating the
// account on first use. When intent is non-nil it is stored as a pending job
// in the same transaction with UsedFreeTrial filled in, so a crash after
// this point leaves a record the sweeper can refund.
func (l *Ledger) Reserve(ctx context.Context, uid, email string, intent *domain.Generation) (domain.CreditReservation, error) {
	var res domain.CreditReservation
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		acct, _, err := tx.LockAccount(l.seed(uid, email))
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if acct.Credits <= 0 {
			return ErrInsufficientCredits
		}
		usedFreeTrialNow := !acct.FreeTrialUsed && acct.Credits == 1
		acct.Credits--
		if usedFreeTrialNow {
			acct.FreeTrialUsed = true
		}
		if e := strings.TrimSpace(email); e != "" && acct.Email == "" {
			acct.Email = e
		}
		acct.UpdatedAt = l.now()
		if err := tx.SaveAccount(acct); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		if intent != nil {
			intent.UsedFreeTrial = usedFreeTrialNow
			if err := tx.SaveGeneration(*intent); err != nil {
				return fmt.Errorf("save pending job: %w", err)
			}
		}
		res = domain.CreditReservation{
			CreditsRemaining:      acct.Credits,
			UsedFreeTrialThisCall: usedFreeTrialNow,
		}
		return nil
	})
	if err != nil {
		return domain.CreditReservation{}, err
	}
	return res, nil
}

// Rollback returns one credit to uid and clears the trial flag only when the
// matching reservation had set it.
func (l *Ledger) Rollback(ctx context.Context, uid string, usedFreeTrialNow bool) error {
	return l.store.InTx(ctx, func(tx store.Tx) error {
		return l.rollback(tx, uid, usedFreeTrialNow)
	})
}

func (l *Ledger) rollback(tx store.Tx, uid string, usedFreeTrialNow bool) error {
	acct, _, err := tx.LockAccount(l.seed(uid, ""))
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	acct.Credits++
	if usedFreeTrialNow {
		acct.FreeTrialUsed = false
	}
	acct.UpdatedAt = l.now()
	return tx.SaveAccount(acct)
}

// Refund rolls back the reservation of jobID at most once. It reports whether
// this call performed the refund.
func (l *Ledger) Refund(ctx context.Context, jobID string) (bool, error) {
	var refunded bool
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		job, ok, err := tx.LockGeneration(jobID)
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if !ok {
			return ErrJobNotFound
		}
		if job.Refunded {
			return nil
		}
		if err := l.rollback(tx, job.UID, job.UsedFreeTrial); err != nil {
			return err
		}
		job.Refunded = true
		job.UpdatedAt = l.now()
		if err := tx.SaveGeneration(job); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		refunded = true
		return nil
	})
	return refunded, err
}

// Account returns the account of uid, creating it with the default
// allotment when missing.
func (l *Ledger) Account(ctx context.Context, uid, email string) (domain.Account, error) {
	acct, ok, err := l.store.GetAccount(ctx, uid)
	if err != nil {
		return domain.Account{}, err
	}
	if ok {
		return acct, nil
	}
	err = l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		acct, _, err = tx.LockAccount(l.seed(uid, email))
		return err
	})
	return acct, err
}
