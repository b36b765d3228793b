// Package statemachine holds the order lifecycle rules. It performs no I/O;
// callers persist the returned state and then run the returned effects.
package statemachine

import (
	"errors"
	"fmt"

	"fulfillment/internal/model"
)

// Trigger is an event that may move an order between states
type Trigger int

const (
	PreferenceIssued Trigger = iota + 1
	PaymentApproved
	PaymentPending
	PaymentRejected
	CancelRequested
)

func (t Trigger) String() string {
	switch t {
	case PreferenceIssued:
		return "preference_issued"
	case PaymentApproved:
		return "payment_approved"
	case PaymentPending:
		return "payment_pending"
	case PaymentRejected:
		return "payment_rejected"
	case CancelRequested:
		return "cancel_requested"
	}
	return fmt.Sprintf("Trigger(%d)", int(t))
}

var (
	// ErrInvalidTransition the trigger is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrForbidden the requester may not cancel this order
	ErrForbidden = errors.New("requester may not cancel this order")
)

// TransitionError describes a rejected transition
type TransitionError struct {
	From    model.OrderStatus
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s from %s", ErrInvalidTransition, e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type edge struct {
	from    model.OrderStatus
	trigger Trigger
}

var table = map[edge]model.OrderStatus{
	{model.OrderStatusPending, PreferenceIssued}: model.OrderStatusProcessing,

	{model.OrderStatusProcessing, PaymentApproved}: model.OrderStatusCompleted,
	// a payment reported pending moves the order back; a later approval completes it
	{model.OrderStatusPending, PaymentApproved}: model.OrderStatusCompleted,

	{model.OrderStatusProcessing, PaymentPending}: model.OrderStatusPending,
	{model.OrderStatusPending, PaymentPending}:    model.OrderStatusPending,

	{model.OrderStatusPending, PaymentRejected}:    model.OrderStatusCancelled,
	{model.OrderStatusProcessing, PaymentRejected}: model.OrderStatusCancelled,
	{model.OrderStatusPending, CancelRequested}:    model.OrderStatusCancelled,
	{model.OrderStatusProcessing, CancelRequested}: model.OrderStatusCancelled,
}

// Transition returns the state reached by applying trigger to current.
// Terminal states accept no trigger.
func Transition(current model.OrderStatus, trigger Trigger) (model.OrderStatus, error) {
	if current.IsTerminal() {
		return current, &TransitionError{From: current, Trigger: trigger}
	}
	next, ok := table[edge{current, trigger}]
	if !ok {
		return current, &TransitionError{From: current, Trigger: trigger}
	}
	return next, nil
}

// TriggerForPaymentStatus maps a provider payment status to a trigger.
// Statuses such as in_process or refunded have no lifecycle meaning here.
func TriggerForPaymentStatus(status string) (Trigger, bool) {
	switch status {
	case "approved":
		return PaymentApproved, true
	case "pending":
		return PaymentPending, true
	case "rejected", "cancelled":
		return PaymentRejected, true
	}
	return 0, false
}

// Effect is a follow-up the caller runs after the new state is durable
type Effect int

const (
	NotifyCreated Effect = iota + 1
	NotifyConfirmed
	NotifyStatusUpdate
	DecrementStock
)

// Effects lists the follow-ups owed for a committed transition
func Effects(from, to model.OrderStatus) []Effect {
	switch {
	case to == model.OrderStatusCompleted:
		return []Effect{NotifyConfirmed, DecrementStock}
	case from == model.OrderStatusPending && to == model.OrderStatusProcessing:
		return []Effect{NotifyCreated}
	default:
		return []Effect{NotifyStatusUpdate}
	}
}

// Requester identifies who is acting on an order
type Requester struct {
	UserID uint64
	Role   string
}

// AuthorizeCancel checks the cancel guard: the owner or an elevated role, and
// only while the order is not terminal.
func AuthorizeCancel(req Requester, order *model.Order) error {
	if !order.IsOwnedBy(req.UserID) && !model.IsElevatedRole(req.Role) {
		return ErrForbidden
	}
	if _, err := Transition(order.Status, CancelRequested); err != nil {
		return err
	}
	return nil
}
