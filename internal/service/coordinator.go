package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/policy"
	"github.com/iliyamo/igcse-subject-reservation/internal/queue"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// EventPublisher receives the domain events emitted by the coordinator.
// Events are delivered after the database transaction commits; delivery is
// best-effort relative to committed state.
type EventPublisher interface {
	BalanceChanged(ctx context.Context, ev queue.BalanceChangedEvent)
	RegistrationConfirmed(ctx context.Context, ev queue.RegistrationConfirmedEvent)
	WithdrawalFulfilled(ctx context.Context, ev queue.WithdrawalFulfilledEvent)
}

// Coordinator orchestrates every multi-step operation touching the escrow
// ledger and the registration store together. Each public method is one
// atomic unit: validations run before any mutation, and any failure inside
// the unit rolls the entire transaction back. The coordinator never retries
// on its own; retries are a caller concern.
//
// Serialization relies on row locks taken inside the transaction: the
// escrow row (EscrowRepo.LockTx) and the registration row
// (RegistrationRepo.GetTx) are read FOR UPDATE, so two concurrent
// operations on the same student or the same registration execute one
// after the other and the second observes the first's final state.
type Coordinator struct {
	db            *sql.DB
	escrows       *repository.EscrowRepo
	registrations *repository.RegistrationRepo
	subjects      *repository.SubjectRepo
	sessions      *repository.SessionRepo
	students      *repository.StudentRepo
	withdrawals   *repository.WithdrawalRepo
	events        EventPublisher
	pendingTTL    time.Duration
}

// NewCoordinator wires the coordinator with its repositories, the event
// publisher and the pending-payment expiry. All repositories must share the
// same database handle; events may be nil to disable publishing (tests).
func NewCoordinator(
	db *sql.DB,
	escrows *repository.EscrowRepo,
	registrations *repository.RegistrationRepo,
	subjects *repository.SubjectRepo,
	sessions *repository.SessionRepo,
	students *repository.StudentRepo,
	withdrawals *repository.WithdrawalRepo,
	events EventPublisher,
	pendingTTL time.Duration,
) *Coordinator {
	if db == nil || escrows == nil || registrations == nil || subjects == nil || sessions == nil || students == nil || withdrawals == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	return &Coordinator{
		db:            db,
		escrows:       escrows,
		registrations: registrations,
		subjects:      subjects,
		sessions:      sessions,
		students:      students,
		withdrawals:   withdrawals,
		events:        events,
		pendingTTL:    pendingTTL,
	}
}

// withTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise. On commit the collected events are published.
func (c *Coordinator) withTx(ctx context.Context, fn func(tx *sql.Tx, ev *eventBuffer) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	buf := &eventBuffer{}
	if err := fn(tx, buf); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	buf.publish(ctx, c.events)
	return nil
}

// eventBuffer collects events during a transaction so nothing is published
// for work that rolls back.
type eventBuffer struct {
	balance     []queue.BalanceChangedEvent
	confirmed   []queue.RegistrationConfirmedEvent
	withdrawals []queue.WithdrawalFulfilledEvent
}

func (b *eventBuffer) publish(ctx context.Context, events EventPublisher) {
	if events == nil {
		return
	}
	for _, ev := range b.balance {
		events.BalanceChanged(ctx, ev)
	}
	for _, ev := range b.confirmed {
		events.RegistrationConfirmed(ctx, ev)
	}
	for _, ev := range b.withdrawals {
		events.WithdrawalFulfilled(ctx, ev)
	}
}

func (b *eventBuffer) balanceChanged(txn *model.EscrowTransaction, newBalance model.Money) {
	old := newBalance.Sub(txn.Amount)
	if txn.Type == model.TxnDebit {
		old = newBalance.Add(txn.Amount)
	}
	b.balance = append(b.balance, queue.BalanceChangedEvent{
		TransactionID: txn.ID,
		EscrowID:      txn.EscrowID,
		StudentID:     txn.StudentID,
		TxnType:       txn.Type,
		Reason:        txn.Reason,
		Amount:        txn.Amount.Piastres(),
		OldBalance:    old.Piastres(),
		NewBalance:    newBalance.Piastres(),
		InitiatedBy:   txn.InitiatedBy,
		OccurredAt:    txn.CreatedAt.Format(time.RFC3339),
	})
}

func (b *eventBuffer) registrationConfirmed(reg *model.Registration, paymentID string) {
	b.confirmed = append(b.confirmed, queue.RegistrationConfirmedEvent{
		RegistrationID:   reg.ID,
		StudentID:        reg.StudentID,
		SessionID:        reg.SessionID,
		SubjectID:        reg.SubjectID,
		RegistrationType: reg.RegistrationType,
		Price:            reg.PriceAtRegistration.Piastres(),
		PaymentID:        paymentID,
		ConfirmedAt:      time.Now().UTC().Format(time.RFC3339),
	})
}

// authorize checks that the actor may perform op on the given students'
// data. Parents must hold an APPROVED link to every student involved.
func (c *Coordinator) authorize(ctx context.Context, actor policy.Actor, op policy.Operation, studentIDs ...uint64) error {
	facts := policy.OwnershipFacts{}
	if len(studentIDs) == 1 && actor.UserID == studentIDs[0] {
		facts.IsSelf = true
	}
	if actor.Role == policy.RoleParent && len(studentIDs) > 0 {
		facts.ParentLinked = true
		for _, sid := range studentIDs {
			linked, err := c.students.IsParentLinked(ctx, actor.UserID, sid)
			if err != nil {
				return err
			}
			if !linked {
				facts.ParentLinked = false
				break
			}
		}
	}
	if !policy.Can(actor.Role, op, facts) {
		return fmt.Errorf("user %d is not allowed to %s for student %v: %w", actor.UserID, op, studentIDs, repository.ErrForbidden)
	}
	return nil
}

// activeSessionTx loads the session inside the transaction and fails with
// ErrSessionNotActive unless it is ACTIVE.
func (c *Coordinator) activeSessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) (*model.RegistrationSession, error) {
	session, err := c.sessions.GetByIDTx(ctx, tx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %d: %w", sessionID, err)
	}
	if session.Status != model.SessionActive {
		return nil, fmt.Errorf("session %d is %s: %w", sessionID, session.Status, repository.ErrSessionNotActive)
	}
	return session, nil
}

// balanceTx reads the student's balance under lock, treating a missing
// escrow as zero without creating one.
func (c *Coordinator) balanceTx(ctx context.Context, tx *sql.Tx, studentID uint64) (model.Money, error) {
	_, balance, err := c.escrows.LockTx(ctx, tx, studentID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// CheckoutRequest is one requested basket line.
type CheckoutRequest struct {
	SubjectID uint64
	Type      string
}

// CheckoutResult reports what checkout produced: the created registrations,
// any escrow debits applied, and the amount the caller must still collect
// externally. When AmountDue is zero the registrations are already
// CONFIRMED; otherwise they are PENDING_PAYMENT until ConfirmPayment.
type CheckoutResult struct {
	Registrations []model.Registration
	EscrowTxns    []model.EscrowTransaction
	Total         model.Money
	AmountDue     model.Money
}

// Checkout registers a student for one or more subjects in a session as a
// single atomic unit. Validations (active session, no duplicates, core
// completeness for Grade-10 June) all run before any row is written.
// Available escrow is applied greedily per line via PAYMENT_APPLIED debits.
func (c *Coordinator) Checkout(ctx context.Context, actor policy.Actor, studentID, sessionID uint64, lines []CheckoutRequest) (*CheckoutResult, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("checkout needs at least one line: %w", repository.ErrNotFound)
	}
	if err := c.authorize(ctx, actor, policy.OpCheckout, studentID); err != nil {
		return nil, err
	}
	grade, err := c.students.Grade(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("student %d: %w", studentID, err)
	}

	var result *CheckoutResult
	err = c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		session, err := c.activeSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		subjectIDs := make([]uint64, 0, len(lines))
		seen := make(map[uint64]struct{}, len(lines))
		for _, l := range lines {
			if _, dup := seen[l.SubjectID]; dup {
				return fmt.Errorf("subject %d appears twice in basket: %w", l.SubjectID, repository.ErrDuplicateRegistration)
			}
			seen[l.SubjectID] = struct{}{}
			subjectIDs = append(subjectIDs, l.SubjectID)
		}
		catalog, err := c.subjects.GetByIDsTx(ctx, tx, subjectIDs)
		if err != nil {
			return err
		}

		priced := make([]CheckoutLine, 0, len(lines))
		for _, l := range lines {
			subject, ok := catalog[l.SubjectID]
			if !ok || !subject.IsActive {
				return fmt.Errorf("subject %d: %w", l.SubjectID, repository.ErrNotFound)
			}
			exists, err := c.registrations.ActiveExistsTx(ctx, tx, studentID, sessionID, l.SubjectID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("subject %d: %w", l.SubjectID, repository.ErrDuplicateRegistration)
			}
			price, err := policy.PriceOf(subject, l.Type)
			if err != nil {
				return fmt.Errorf("subject %d: %w", l.SubjectID, err)
			}
			priced = append(priced, CheckoutLine{SubjectID: l.SubjectID, Type: l.Type, Price: price})
		}

		if policy.CoreMandateApplies(grade, session.SessionType) {
			fullCatalog, err := c.subjects.ListActiveTx(ctx, tx)
			if err != nil {
				return err
			}
			required := policy.RequiredCoreSubjectIDs(grade, session.SessionType, fullCatalog)
			proposed, err := c.registrations.ConfirmedSubjectIDsTx(ctx, tx, studentID, sessionID)
			if err != nil {
				return err
			}
			for id := range seen {
				proposed[id] = struct{}{}
			}
			if !policy.ValidateCoreCompleteness(required, proposed) {
				return fmt.Errorf("student %d must enroll in all core subjects: %w", studentID, repository.ErrCoreIncomplete)
			}
		}

		balance, err := c.balanceTx(ctx, tx, studentID)
		if err != nil {
			return err
		}
		plan := BuildCheckoutPlan(priced, balance)

		status := model.RegPendingPayment
		if plan.AmountDue == 0 {
			status = model.RegConfirmed
		}

		res := &CheckoutResult{Total: plan.Total, AmountDue: plan.AmountDue}
		for _, p := range plan.Lines {
			reg := model.Registration{
				StudentID:           studentID,
				SessionID:           sessionID,
				SubjectID:           p.SubjectID,
				RegistrationType:    p.Type,
				PriceAtRegistration: p.Price,
				Status:              status,
				RegisteredBy:        actor.UserID,
			}
			if err := c.registrations.CreateTx(ctx, tx, &reg); err != nil {
				return err
			}
			if p.FromEscrow.IsPositive() {
				regID := reg.ID
				txn, newBalance, err := c.escrows.DebitTx(ctx, tx, studentID, p.FromEscrow,
					model.ReasonPaymentApplied, repository.RelatedIDs{RegistrationID: &regID}, actor.UserID)
				if err != nil {
					return err
				}
				ev.balanceChanged(txn, newBalance)
				res.EscrowTxns = append(res.EscrowTxns, *txn)
			}
			if status == model.RegConfirmed {
				ev.registrationConfirmed(&reg, "")
			}
			res.Registrations = append(res.Registrations, reg)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConfirmPayment marks the given PENDING_PAYMENT registrations CONFIRMED
// after the external gateway reports success. The caller is the payment
// collaborator; its input is trusted. A row reclaimed in the meantime makes
// the whole unit fail with ErrNotFound/ErrInvalidTransition: whichever of
// reclamation and confirmation commits first wins, the other fails cleanly.
// Pending rows created by a deferred swap also drop their predecessor here.
func (c *Coordinator) ConfirmPayment(ctx context.Context, paymentID string, registrationIDs []uint64) ([]model.Registration, error) {
	var confirmed []model.Registration
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		for _, id := range registrationIDs {
			reg, err := c.registrations.GetTx(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("registration %d: %w", id, err)
			}
			if err := c.registrations.ConfirmTx(ctx, tx, id); err != nil {
				return fmt.Errorf("registration %d: %w", id, err)
			}
			if reg.SwappedFromID != nil {
				// Deferred swap: the replaced registration falls with the
				// payment that funds its successor.
				if _, err := c.registrations.DropTx(ctx, tx, *reg.SwappedFromID); err != nil {
					return fmt.Errorf("swapped registration %d: %w", *reg.SwappedFromID, err)
				}
			}
			reg.Status = model.RegConfirmed
			reg.SwappedFromID = nil
			ev.registrationConfirmed(reg, paymentID)
			confirmed = append(confirmed, *reg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// FailPayment releases the still-pending registrations of a failed or
// abandoned payment and credits back exactly the escrow that checkout
// applied to them. Rows already confirmed or reclaimed are skipped.
func (c *Coordinator) FailPayment(ctx context.Context, actor policy.Actor, paymentID string, registrationIDs []uint64) ([]model.Registration, error) {
	var released []model.Registration
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		pending, err := c.registrations.PendingByIDsTx(ctx, tx, registrationIDs)
		if err != nil {
			return err
		}
		released = pending
		return c.compensateReleased(ctx, tx, ev, pending, &paymentID, actor.UserID)
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// compensateReleased credits back the net PAYMENT_APPLIED escrow per
// released registration, bringing its ledger net to zero.
func (c *Coordinator) compensateReleased(ctx context.Context, tx *sql.Tx, ev *eventBuffer, released []model.Registration, paymentID *string, initiatedBy uint64) error {
	if len(released) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(released))
	for _, reg := range released {
		ids = append(ids, reg.ID)
	}
	applied, err := c.escrows.PaymentAppliedTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	for _, reg := range released {
		net := applied[reg.ID]
		if !net.IsPositive() {
			continue
		}
		regID := reg.ID
		txn, newBalance, err := c.escrows.CreditTx(ctx, tx, reg.StudentID, net,
			model.ReasonPaymentApplied, repository.RelatedIDs{RegistrationID: &regID, PaymentID: paymentID}, initiatedBy)
		if err != nil {
			return err
		}
		ev.balanceChanged(txn, newBalance)
	}
	return nil
}

// Drop cancels a CONFIRMED registration and refunds its price snapshot to
// escrow as one atomic unit. Core-subject registrations of Grade-10 June
// students are locked and never mutated by this operation.
func (c *Coordinator) Drop(ctx context.Context, actor policy.Actor, registrationID uint64) (*model.EscrowTransaction, error) {
	var credit *model.EscrowTransaction
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		reg, err := c.registrations.GetTx(ctx, tx, registrationID)
		if err != nil {
			return fmt.Errorf("registration %d: %w", registrationID, err)
		}
		if err := c.authorize(ctx, actor, policy.OpDrop, reg.StudentID); err != nil {
			return err
		}
		session, err := c.activeSessionTx(ctx, tx, reg.SessionID)
		if err != nil {
			return err
		}
		if err := c.ensureUnlocked(ctx, tx, reg, session); err != nil {
			return err
		}
		if _, err := c.registrations.DropTx(ctx, tx, registrationID); err != nil {
			return fmt.Errorf("registration %d: %w", registrationID, err)
		}
		regID := reg.ID
		txn, newBalance, err := c.escrows.CreditTx(ctx, tx, reg.StudentID, reg.PriceAtRegistration,
			model.ReasonDrop, repository.RelatedIDs{RegistrationID: &regID}, actor.UserID)
		if err != nil {
			return err
		}
		ev.balanceChanged(txn, newBalance)
		credit = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// ensureUnlocked rejects mutations of core-subject registrations held by
// Grade-10 students in a June session.
func (c *Coordinator) ensureUnlocked(ctx context.Context, tx *sql.Tx, reg *model.Registration, session *model.RegistrationSession) error {
	grade, err := c.students.Grade(ctx, reg.StudentID)
	if err != nil {
		return fmt.Errorf("student %d: %w", reg.StudentID, err)
	}
	subjects, err := c.subjects.GetByIDsTx(ctx, tx, []uint64{reg.SubjectID})
	if err != nil {
		return err
	}
	subject, ok := subjects[reg.SubjectID]
	if !ok {
		return fmt.Errorf("subject %d: %w", reg.SubjectID, repository.ErrNotFound)
	}
	if policy.IsLocked(subject.IsCore, grade, session.SessionType) {
		return fmt.Errorf("subject %d is mandatory for grade-10 June candidates: %w", reg.SubjectID, repository.ErrCoreSubjectLocked)
	}
	return nil
}

// SwapResult reports the outcome of a swap. When Deferred is true the old
// registration is still CONFIRMED, the new one is PENDING_PAYMENT, and
// AmountDue must be collected before ConfirmPayment completes the exchange.
type SwapResult struct {
	OldRegistration model.Registration
	NewRegistration model.Registration
	DeltaTxn        *model.EscrowTransaction
	AmountDue       model.Money
	Deferred        bool
}

// Swap replaces one confirmed registration with a registration for another
// subject in a single atomic unit. The signed price difference is settled
// against escrow: a covered positive delta is debited (SWAP_CHARGE), a
// negative delta credited (SWAP_REFUND). A positive delta the balance does
// not cover defers the exchange: the new row is created PENDING_PAYMENT
// carrying a reference to the old one, and both fall or stand together when
// the payment callback arrives. A partial swap is never observable.
func (c *Coordinator) Swap(ctx context.Context, actor policy.Actor, registrationID, newSubjectID uint64, newType string) (*SwapResult, error) {
	var result *SwapResult
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		oldReg, err := c.registrations.GetTx(ctx, tx, registrationID)
		if err != nil {
			return fmt.Errorf("registration %d: %w", registrationID, err)
		}
		if err := c.authorize(ctx, actor, policy.OpSwap, oldReg.StudentID); err != nil {
			return err
		}
		session, err := c.activeSessionTx(ctx, tx, oldReg.SessionID)
		if err != nil {
			return err
		}
		if oldReg.Status != model.RegConfirmed {
			return fmt.Errorf("registration %d is %s: %w", registrationID, oldReg.Status, repository.ErrInvalidTransition)
		}
		if err := c.ensureUnlocked(ctx, tx, oldReg, session); err != nil {
			return err
		}
		if newSubjectID == oldReg.SubjectID {
			return fmt.Errorf("subject %d: %w", newSubjectID, repository.ErrDuplicateRegistration)
		}
		exists, err := c.registrations.ActiveExistsTx(ctx, tx, oldReg.StudentID, oldReg.SessionID, newSubjectID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("subject %d: %w", newSubjectID, repository.ErrDuplicateRegistration)
		}
		subjects, err := c.subjects.GetByIDsTx(ctx, tx, []uint64{newSubjectID})
		if err != nil {
			return err
		}
		newSubject, ok := subjects[newSubjectID]
		if !ok || !newSubject.IsActive {
			return fmt.Errorf("subject %d: %w", newSubjectID, repository.ErrNotFound)
		}

		grade, err := c.students.Grade(ctx, oldReg.StudentID)
		if err != nil {
			return fmt.Errorf("student %d: %w", oldReg.StudentID, err)
		}
		if policy.CoreMandateApplies(grade, session.SessionType) {
			fullCatalog, err := c.subjects.ListActiveTx(ctx, tx)
			if err != nil {
				return err
			}
			required := policy.RequiredCoreSubjectIDs(grade, session.SessionType, fullCatalog)
			proposed, err := c.registrations.ConfirmedSubjectIDsTx(ctx, tx, oldReg.StudentID, oldReg.SessionID)
			if err != nil {
				return err
			}
			delete(proposed, oldReg.SubjectID)
			proposed[newSubjectID] = struct{}{}
			if !policy.ValidateCoreCompleteness(required, proposed) {
				return fmt.Errorf("student %d must keep all core subjects: %w", oldReg.StudentID, repository.ErrCoreIncomplete)
			}
		}

		newPrice, err := policy.PriceOf(newSubject, newType)
		if err != nil {
			return fmt.Errorf("subject %d: %w", newSubjectID, err)
		}
		balance, err := c.balanceTx(ctx, tx, oldReg.StudentID)
		if err != nil {
			return err
		}
		settle := SettleDelta(policy.SwapDelta(oldReg.PriceAtRegistration, newPrice), balance)

		newReg := model.Registration{
			StudentID:           oldReg.StudentID,
			SessionID:           oldReg.SessionID,
			SubjectID:           newSubjectID,
			RegistrationType:    newType,
			PriceAtRegistration: newPrice,
			RegisteredBy:        actor.UserID,
		}
		res := &SwapResult{OldRegistration: *oldReg, AmountDue: settle.AmountDue, Deferred: settle.Deferred}

		if settle.Deferred {
			// The old registration stays confirmed until the payment funds
			// the exchange; ConfirmPayment drops it atomically with the
			// confirmation of the new row.
			oldID := oldReg.ID
			newReg.Status = model.RegPendingPayment
			newReg.SwappedFromID = &oldID
			if err := c.registrations.CreateTx(ctx, tx, &newReg); err != nil {
				return err
			}
			res.NewRegistration = newReg
			result = res
			return nil
		}

		droppedAt, err := c.registrations.DropTx(ctx, tx, oldReg.ID)
		if err != nil {
			return fmt.Errorf("registration %d: %w", oldReg.ID, err)
		}
		res.OldRegistration.Status = model.RegDropped
		res.OldRegistration.DroppedAt = &droppedAt

		newReg.Status = model.RegConfirmed
		if err := c.registrations.CreateTx(ctx, tx, &newReg); err != nil {
			return err
		}
		newID := newReg.ID
		rel := repository.RelatedIDs{RegistrationID: &newID}
		if settle.EscrowCharge.IsPositive() {
			txn, newBalance, err := c.escrows.DebitTx(ctx, tx, oldReg.StudentID, settle.EscrowCharge, model.ReasonSwapCharge, rel, actor.UserID)
			if err != nil {
				return err
			}
			ev.balanceChanged(txn, newBalance)
			res.DeltaTxn = txn
		}
		if settle.Refund.IsPositive() {
			txn, newBalance, err := c.escrows.CreditTx(ctx, tx, oldReg.StudentID, settle.Refund, model.ReasonSwapRefund, rel, actor.UserID)
			if err != nil {
				return err
			}
			ev.balanceChanged(txn, newBalance)
			res.DeltaTxn = txn
		}
		ev.registrationConfirmed(&newReg, "")
		res.NewRegistration = newReg
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SwitchResult reports the outcome of an in-school/external type switch.
type SwitchResult struct {
	Registration model.Registration
	DeltaTxn     *model.EscrowTransaction
}

// SwitchType changes the registration type of a confirmed registration in
// place, rewriting the price snapshot and settling the signed delta against
// escrow in the same unit. Unlike Swap there is no deferred path: an
// uncovered positive delta fails with ErrInsufficientFunds and the caller
// tops up escrow first.
func (c *Coordinator) SwitchType(ctx context.Context, actor policy.Actor, registrationID uint64, newType string) (*SwitchResult, error) {
	var result *SwitchResult
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		reg, err := c.registrations.GetTx(ctx, tx, registrationID)
		if err != nil {
			return fmt.Errorf("registration %d: %w", registrationID, err)
		}
		if err := c.authorize(ctx, actor, policy.OpSwitchType, reg.StudentID); err != nil {
			return err
		}
		session, err := c.activeSessionTx(ctx, tx, reg.SessionID)
		if err != nil {
			return err
		}
		if reg.Status != model.RegConfirmed {
			return fmt.Errorf("registration %d is %s: %w", registrationID, reg.Status, repository.ErrInvalidTransition)
		}
		if err := c.ensureUnlocked(ctx, tx, reg, session); err != nil {
			return err
		}
		if newType == reg.RegistrationType {
			result = &SwitchResult{Registration: *reg}
			return nil
		}
		subjects, err := c.subjects.GetByIDsTx(ctx, tx, []uint64{reg.SubjectID})
		if err != nil {
			return err
		}
		subject, ok := subjects[reg.SubjectID]
		if !ok {
			return fmt.Errorf("subject %d: %w", reg.SubjectID, repository.ErrNotFound)
		}
		newPrice, err := policy.PriceOf(subject, newType)
		if err != nil {
			return fmt.Errorf("subject %d: %w", reg.SubjectID, err)
		}
		balance, err := c.balanceTx(ctx, tx, reg.StudentID)
		if err != nil {
			return err
		}
		settle := SettleDelta(policy.SwapDelta(reg.PriceAtRegistration, newPrice), balance)
		if settle.Deferred {
			return fmt.Errorf("switching registration %d needs %s more in escrow: %w",
				registrationID, settle.AmountDue, repository.ErrInsufficientFunds)
		}

		res := &SwitchResult{}
		regID := reg.ID
		rel := repository.RelatedIDs{RegistrationID: &regID}
		if settle.EscrowCharge.IsPositive() {
			txn, newBalance, err := c.escrows.DebitTx(ctx, tx, reg.StudentID, settle.EscrowCharge, model.ReasonSwapCharge, rel, actor.UserID)
			if err != nil {
				return err
			}
			ev.balanceChanged(txn, newBalance)
			res.DeltaTxn = txn
		}
		if settle.Refund.IsPositive() {
			txn, newBalance, err := c.escrows.CreditTx(ctx, tx, reg.StudentID, settle.Refund, model.ReasonSwapRefund, rel, actor.UserID)
			if err != nil {
				return err
			}
			ev.balanceChanged(txn, newBalance)
			res.DeltaTxn = txn
		}
		if err := c.registrations.UpdateTypeTx(ctx, tx, reg.ID, newType, newPrice); err != nil {
			return fmt.Errorf("registration %d: %w", reg.ID, err)
		}
		reg.RegistrationType = newType
		reg.PriceAtRegistration = newPrice
		res.Registration = *reg
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransferResult pairs the two legs of an escrow transfer.
type TransferResult struct {
	DebitTxn  model.EscrowTransaction
	CreditTxn model.EscrowTransaction
}

// Transfer moves money between two students' escrows as one atomic unit:
// both legs succeed or neither does. Both escrow rows are locked in
// ascending student-ID order before any mutation so two opposite-direction
// transfers cannot deadlock.
func (c *Coordinator) Transfer(ctx context.Context, actor policy.Actor, fromStudentID, toStudentID uint64, amount model.Money) (*TransferResult, error) {
	if fromStudentID == toStudentID {
		return nil, fmt.Errorf("cannot transfer from student %d to themselves: %w", fromStudentID, repository.ErrForbidden)
	}
	if !amount.IsPositive() {
		return nil, repository.ErrNonPositiveAmount
	}
	if err := c.authorize(ctx, actor, policy.OpTransfer, fromStudentID, toStudentID); err != nil {
		return nil, err
	}
	var result *TransferResult
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		// Fixed global lock order, lexicographic by student ID.
		first, second := fromStudentID, toStudentID
		if second < first {
			first, second = second, first
		}
		for _, sid := range []uint64{first, second} {
			if _, _, err := c.escrows.LockTx(ctx, tx, sid, true); err != nil {
				return err
			}
		}
		debit, fromBalance, err := c.escrows.DebitTx(ctx, tx, fromStudentID, amount, model.ReasonTransferOut, repository.RelatedIDs{}, actor.UserID)
		if err != nil {
			return fmt.Errorf("student %d: %w", fromStudentID, err)
		}
		ev.balanceChanged(debit, fromBalance)
		credit, toBalance, err := c.escrows.CreditTx(ctx, tx, toStudentID, amount, model.ReasonTransferIn, repository.RelatedIDs{}, actor.UserID)
		if err != nil {
			return err
		}
		ev.balanceChanged(credit, toBalance)
		result = &TransferResult{DebitTxn: *debit, CreditTxn: *credit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RequestWithdrawal records a cash-out request against a student's escrow.
// The requested amount may exceed the balance; it expresses intent and is
// bounded only at fulfillment time.
func (c *Coordinator) RequestWithdrawal(ctx context.Context, actor policy.Actor, studentID uint64, amount model.Money) (*model.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrNonPositiveAmount
	}
	if err := c.authorize(ctx, actor, policy.OpRequestWithdrawal, studentID); err != nil {
		return nil, err
	}
	var request *model.WithdrawalRequest
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		escrowID, _, err := c.escrows.LockTx(ctx, tx, studentID, true)
		if err != nil {
			return err
		}
		w := &model.WithdrawalRequest{
			EscrowID:        escrowID,
			StudentID:       studentID,
			RequestedAmount: amount,
			RequestedBy:     actor.UserID,
		}
		if err := c.withdrawals.CreateTx(ctx, tx, w); err != nil {
			return err
		}
		request = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// FulfillWithdrawal releases money for a pending request. Only admins may
// resolve requests. The released amount must not exceed the requested
// amount or the balance at fulfillment time; on success the escrow is
// debited and the request becomes FULFILLED, or PARTIALLY_FULFILLED when
// less than requested was released (terminal either way).
func (c *Coordinator) FulfillWithdrawal(ctx context.Context, actor policy.Actor, requestID uint64, released model.Money, notes *string) (*model.WithdrawalRequest, error) {
	if err := c.authorize(ctx, actor, policy.OpFulfillWithdrawal); err != nil {
		return nil, err
	}
	var request *model.WithdrawalRequest
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		w, err := c.withdrawals.GetTx(ctx, tx, requestID)
		if err != nil {
			return fmt.Errorf("withdrawal request %d: %w", requestID, err)
		}
		balance, err := c.balanceTx(ctx, tx, w.StudentID)
		if err != nil {
			return err
		}
		status, err := WithdrawalOutcome(w.RequestedAmount, released, balance)
		if err != nil {
			return fmt.Errorf("withdrawal request %d: %w", requestID, err)
		}
		txn, newBalance, err := c.escrows.DebitTx(ctx, tx, w.StudentID, released, model.ReasonWithdrawal, repository.RelatedIDs{}, actor.UserID)
		if err != nil {
			return err
		}
		ev.balanceChanged(txn, newBalance)
		if err := c.withdrawals.ResolveTx(ctx, tx, requestID, status, &released, actor.UserID, notes); err != nil {
			return fmt.Errorf("withdrawal request %d: %w", requestID, err)
		}
		now := time.Now().UTC()
		w.Status = status
		w.ReleasedAmount = &released
		w.AdminNotes = notes
		w.FulfilledAt = &now
		adminID := actor.UserID
		w.FulfilledBy = &adminID
		ev.withdrawals = append(ev.withdrawals, queue.WithdrawalFulfilledEvent{
			RequestID:   w.ID,
			StudentID:   w.StudentID,
			Requested:   w.RequestedAmount.Piastres(),
			Released:    released.Piastres(),
			Status:      status,
			AdminID:     actor.UserID,
			FulfilledAt: now.Format(time.RFC3339),
		})
		request = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// RejectWithdrawal resolves a pending request without releasing money.
func (c *Coordinator) RejectWithdrawal(ctx context.Context, actor policy.Actor, requestID uint64, notes *string) error {
	if err := c.authorize(ctx, actor, policy.OpFulfillWithdrawal); err != nil {
		return err
	}
	return c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		if err := c.withdrawals.ResolveTx(ctx, tx, requestID, model.WithdrawalRejected, nil, actor.UserID, notes); err != nil {
			return fmt.Errorf("withdrawal request %d: %w", requestID, err)
		}
		return nil
	})
}

// ReclaimExpired releases the PENDING_PAYMENT registrations of a session
// that never received a payment confirmation within the configured expiry,
// crediting back any escrow applied at checkout. The whole sweep is one
// atomic unit and is safe to run concurrently with a late confirmation:
// whichever transaction commits first wins and the other fails cleanly.
// Returns the number of registrations released.
func (c *Coordinator) ReclaimExpired(ctx context.Context, actor policy.Actor, sessionID uint64) (int, error) {
	var count int
	err := c.withTx(ctx, func(tx *sql.Tx, ev *eventBuffer) error {
		cutoff := time.Now().UTC().Add(-c.pendingTTL)
		expired, err := c.registrations.ExpiredPendingTx(ctx, tx, sessionID, cutoff)
		if err != nil {
			return err
		}
		count = len(expired)
		return c.compensateReleased(ctx, tx, ev, expired, nil, actor.UserID)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
