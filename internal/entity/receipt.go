package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// Receipt represents a normalized extraction result for data transfer between layers.
type Receipt struct {
	ID              string             `json:"id"`
	JobID           string             `json:"job_id,omitempty"`
	MerchantName    *string            `json:"merchant_name,omitempty"`
	ReceiptDate     *time.Time         `json:"receipt_date,omitempty"`
	TotalAmount     *float64           `json:"total_amount,omitempty"`
	Phone           string             `json:"phone,omitempty"`
	Items           []string           `json:"items"`
	RawText         string             `json:"raw_text"`
	Category        constants.Category `json:"category"`
	Confidence      float64            `json:"confidence"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
	ModelVersion    string             `json:"model_version,omitempty"`
	Corrected       bool               `json:"corrected"`
	ProcessedAt     time.Time          `json:"processed_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Merchant returns the merchant name or an empty string.
func (r *Receipt) Merchant() string {
	if r.MerchantName == nil {
		return ""
	}
	return *r.MerchantName
}

// Total returns the total amount or zero.
func (r *Receipt) Total() float64 {
	if r.TotalAmount == nil {
		return 0
	}
	return *r.TotalAmount
}

// ReceiptFilter narrows receipt listings. Zero values mean "no filter".
type ReceiptFilter struct {
	Category  constants.Category
	From      *time.Time
	To        *time.Time
	Corrected *bool
	Limit     int
	Offset    int
}
