package models

import "time"

// RequestRecord is one audit entry describing a single inbound write
// request and the principal/origin that issued it. Immutable after
// creation; change records reference it via RequestID.
type RequestRecord struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UserID     *string   `json:"user_id,omitempty"`
	IP         string    `json:"ip"`
	Method     string    `json:"method"`
	Referer    string    `json:"referer"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
}

// RequestQueryOpts holds filters for listing request records.
type RequestQueryOpts struct {
	Method     string
	StatusCode int
	UserID     string
	Since      *time.Time
	Limit      int
	Offset     int
}
