package model

import "time"

// ActivityAction identifies what happened to an account.
type ActivityAction string

const (
	ActivityAdded          ActivityAction = "added"
	ActivityRemoved        ActivityAction = "removed"
	ActivityDeactivated    ActivityAction = "deactivated"
	ActivitySessionRefresh ActivityAction = "session_refresh"
	ActivityAccepted       ActivityAction = "confirmation_accepted"
	ActivityDenied         ActivityAction = "confirmation_denied"
)

// Activity is one row of the account audit trail.
type Activity struct {
	ID        int64
	Account   string
	Action    ActivityAction
	Subject   string
	Detail    string
	Success   bool
	CreatedAt time.Time
}
