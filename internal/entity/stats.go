package entity

// JobStats summarizes the jobs table for the admin endpoint.
type JobStats struct {
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"by_status"`
	AvgProcessingSeconds float64        `json:"avg_processing_seconds"`
	SuccessRate          float64        `json:"success_rate"`
}
