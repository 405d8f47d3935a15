package message

import "time"

// EntitlementGranted is published after a membership is granted so that every
// instance can drop its cached access decision for the user.
type EntitlementGranted struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	GrantedAt time.Time `json:"grantedAt"`
}
