package engine

// ProcessingResult is the outcome of one in-place document request. On a
// fatal failure the engine still fills the counters and error detail so
// the caller can report what was attempted.
type ProcessingResult struct {
	Success              bool     `json:"success"`
	Message              string   `json:"message"`
	Error                string   `json:"error,omitempty"`
	ErrorDetails         string   `json:"error_details,omitempty"`
	OracleResponse       string   `json:"oracle_response,omitempty"`
	CodeSavedTo          string   `json:"code_saved_to,omitempty"`
	OriginalTask         string   `json:"original_task"`
	GeneratedFiles       []string `json:"generated_files"`
	DownloadLink         string   `json:"download_link,omitempty"`
	ValidationAttempts   int      `json:"validation_attempts"`
	ValidatorCorrections int      `json:"validator_corrections"`
	ErrorRetries         int      `json:"error_retries"`
	TotalCorrections     int      `json:"total_corrections"`
	ValidationPassed     bool     `json:"validation_passed"`
	ValidationNote       string   `json:"validation_note,omitempty"`
	ElapsedSeconds       float64  `json:"elapsed_seconds"`
}

// PathResult is the outcome of the copy-based workflow. The modified copy
// is always present, even after an exhausted or rejected run.
type PathResult struct {
	Success          bool   `json:"success"`
	Validated        bool   `json:"validated"`
	ValidationFailed bool   `json:"validation_failed,omitempty"`
	Message          string `json:"message"`
	Summary          string `json:"summary"`
	ModifiedPath     string `json:"modified_path"`
	CodeSavedTo      string `json:"code_saved_to,omitempty"`
	Attempts         int    `json:"attempts"`
}
