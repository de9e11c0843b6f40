package server

// UploadResponse is the response for the submission endpoint.
type UploadResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Detail        string `json:"detail,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
