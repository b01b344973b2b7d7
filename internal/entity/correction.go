package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// Correction is a user-supplied category override. Once recorded it is only
// ever stamped as consumed by the retraining run that trained on it.
type Correction struct {
	ID                string             `json:"id"`
	ReceiptID         string             `json:"receipt_id"`
	OriginalCategory  constants.Category `json:"original_category"`
	CorrectedCategory constants.Category `json:"corrected_category"`
	Text              string             `json:"text"`
	MerchantName      string             `json:"merchant_name"`
	Items             []string           `json:"items"`
	CorrectedAt       time.Time          `json:"corrected_at"`
	ConsumedByRun     *string            `json:"consumed_by_run,omitempty"`
	ConsumedAt        *time.Time         `json:"consumed_at,omitempty"`
}
