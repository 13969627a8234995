package types

// MessageResponse is the body for acknowledgements such as a saved location.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse keeps the flat {message} shape devices already parse and adds
// a machine-readable code.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}
