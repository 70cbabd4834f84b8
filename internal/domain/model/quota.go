package model

import "time"

type EntitlementCode struct {
	Code      string
	ClaimedBy *UserID
	ClaimedAt *time.Time
}

func (c EntitlementCode) Claimed() bool {
	return c.ClaimedBy != nil
}

type UserQuota struct {
	UserID           UserID
	ClaimedCode      string
	AccountsUsed     int
	AccountsReserved int
	LastRequestAt    time.Time
}

func (q UserQuota) Entitled() bool {
	return q.ClaimedCode != ""
}

type RateDecision struct {
	Allowed bool
	Wait    time.Duration
}
