package types

// RequestIssueToken is the request for an operator JWT
type RequestIssueToken struct {
	Subject string `json:"subject" form:"subject"`
}
