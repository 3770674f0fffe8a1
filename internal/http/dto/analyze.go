package dto

// AnalyzeRequest is the body of POST /api/analyze. DocID may be a bare id or a
// full document URL. A missing SinceHours means the server default.
type AnalyzeRequest struct {
	DocID        string `json:"doc_id" binding:"required"`
	SinceHours   *int   `json:"since_hours" binding:"omitempty,min=0,max=8760"`
	ForceRefresh bool   `json:"force_refresh"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
