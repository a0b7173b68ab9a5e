package types

import "time"

// ResponseToken is the response for operator token issuance
type ResponseToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}
