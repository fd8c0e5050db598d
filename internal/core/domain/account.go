package domain

import "time"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "ACTIVE"
	StatusInactive AccountStatus = "INACTIVE"
)

// validTransitions defines the account state machine. Inactivation is
// idempotent and there is no way back to ACTIVE.
var validTransitions = map[AccountStatus][]AccountStatus{
	StatusActive:   {StatusInactive},
	StatusInactive: {StatusInactive},
}

// CanTransitionTo reports whether a transition from current status to next is valid.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Account is the persisted customer account, secrets included. It must never
// be handed to a caller outside the service; use Public for that.
type Account struct {
	ID               int64
	Name             string
	LastName         string
	Email            string
	SecretHash       string
	Role             string
	Status           AccountStatus
	RefreshTokenHash string // empty when no session was ever issued
	BirthDate        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicAccount is the sanitized projection of an Account. It has no secret
// fields, so nothing built from it can leak one.
type PublicAccount struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	LastName  string        `json:"lastName"`
	Email     string        `json:"email"`
	Role      string        `json:"role"`
	Status    AccountStatus `json:"status"`
	BirthDate *time.Time    `json:"birthDate,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Public returns the sanitized projection of a.
func (a *Account) Public() PublicAccount {
	p := PublicAccount{
		ID:        a.ID,
		Name:      a.Name,
		LastName:  a.LastName,
		Email:     a.Email,
		Role:      a.Role,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.BirthDate != nil {
		bd := *a.BirthDate
		p.BirthDate = &bd
	}
	return p
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.BirthDate != nil {
		bd := *a.BirthDate
		c.BirthDate = &bd
	}
	return &c
}

// Claims is the payload carried by access and refresh tokens.
type Claims struct {
	AccountID int64  `json:"accountId"`
	Role      string `json:"role"`
}
