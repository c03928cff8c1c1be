// Package events names the workforce domain events and their payloads.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leeforge/workforce/eventbus"
)

const (
	LocationApprovedEvent = "location.approved"
	ExpenseSubmittedEvent = "expense.submitted"
	ExpenseApprovedEvent  = "expense.approved"
	StaffAssignedEvent    = "staff.assigned"
	BookingCreatedEvent   = "booking.created"
	ShiftPublishedEvent   = "shift.published"
	KitCheckedOutEvent    = "kit.checked_out"
)

// All returns every domain event name.
func All() []string {
	return []string{
		LocationApprovedEvent,
		ExpenseSubmittedEvent,
		ExpenseApprovedEvent,
		StaffAssignedEvent,
		BookingCreatedEvent,
		ShiftPublishedEvent,
		KitCheckedOutEvent,
	}
}

// Payload is implemented by every domain event payload.
type Payload interface {
	EventName() string
}

// Tenant is implemented by payloads scoped to one organization.
type Tenant interface {
	Tenant() uuid.UUID
}

type LocationApproved struct {
	LocationID     uuid.UUID `json:"locationId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	ApprovedBy     uuid.UUID `json:"approvedBy"`
	ApprovedAt     time.Time `json:"approvedAt"`
}

func (LocationApproved) EventName() string { return LocationApprovedEvent }
func (e LocationApproved) Tenant() uuid.UUID { return e.OrganizationID }

type ExpenseSubmitted struct {
	ExpenseID      uuid.UUID `json:"expenseId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	SubmittedBy    uuid.UUID `json:"submittedBy"`
	AmountCents    int64     `json:"amountCents"`
	Currency       string    `json:"currency" default:"USD"`
}

func (ExpenseSubmitted) EventName() string { return ExpenseSubmittedEvent }
func (e ExpenseSubmitted) Tenant() uuid.UUID { return e.OrganizationID }

type ExpenseApproved struct {
	ExpenseID      uuid.UUID `json:"expenseId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	ApprovedBy     uuid.UUID `json:"approvedBy"`
	AmountCents    int64     `json:"amountCents"`
	Currency       string    `json:"currency" default:"USD"`
}

func (ExpenseApproved) EventName() string { return ExpenseApprovedEvent }
func (e ExpenseApproved) Tenant() uuid.UUID { return e.OrganizationID }

type StaffAssigned struct {
	AssignmentID   uuid.UUID `json:"assignmentId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	StaffID        uuid.UUID `json:"staffId"`
	ShiftID        uuid.UUID `json:"shiftId"`
	Role           string    `json:"role,omitempty"`
}

func (StaffAssigned) EventName() string { return StaffAssignedEvent }
func (e StaffAssigned) Tenant() uuid.UUID { return e.OrganizationID }

type BookingCreated struct {
	BookingID      uuid.UUID `json:"bookingId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	LocationID     uuid.UUID `json:"locationId"`
	CustomerID     uuid.UUID `json:"customerId"`
	StartsAt       time.Time `json:"startsAt"`
	EndsAt         time.Time `json:"endsAt"`
}

func (BookingCreated) EventName() string { return BookingCreatedEvent }
func (e BookingCreated) Tenant() uuid.UUID { return e.OrganizationID }

type ShiftPublished struct {
	ShiftID        uuid.UUID `json:"shiftId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	LocationID     uuid.UUID `json:"locationId"`
	StartsAt       time.Time `json:"startsAt"`
	EndsAt         time.Time `json:"endsAt"`
}

func (ShiftPublished) EventName() string { return ShiftPublishedEvent }
func (e ShiftPublished) Tenant() uuid.UUID { return e.OrganizationID }

type KitCheckedOut struct {
	KitID          uuid.UUID `json:"kitId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	CheckedOutBy   uuid.UUID `json:"checkedOutBy"`
	DueBack        time.Time `json:"dueBack"`
}

func (KitCheckedOut) EventName() string { return KitCheckedOutEvent }
func (e KitCheckedOut) Tenant() uuid.UUID { return e.OrganizationID }

// Emit publishes p under its own event name. The payload's organization is
// used as the actor's tenant unless an option sets one.
func Emit(ctx context.Context, bus eventbus.Bus, p Payload, opts ...eventbus.PublishOption) error {
	if t, ok := p.(Tenant); ok && t.Tenant() != uuid.Nil {
		opts = append([]eventbus.PublishOption{eventbus.WithMetadata(eventbus.Metadata{
			OrganizationID: t.Tenant().String(),
		})}, opts...)
	}
	return bus.Publish(ctx, p.EventName(), p, opts...)
}

// On subscribes a handler typed to the payload of T's event.
func On[T Payload](bus eventbus.Bus, h eventbus.TypedHandler[T], opts ...eventbus.SubscribeOption) eventbus.Token {
	var zero T
	return bus.Subscribe(zero.EventName(), eventbus.Typed(h), opts...)
}
