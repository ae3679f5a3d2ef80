package models

import (
	"time"
)

// QuotationStatus represents where a quotation is in the sales pipeline
type QuotationStatus string

const (
	QuotationStatusDraft    QuotationStatus = "draft"
	QuotationStatusSent     QuotationStatus = "sent"
	QuotationStatusApproved QuotationStatus = "approved"
	QuotationStatusRejected QuotationStatus = "rejected"
)

// Quotation is the business entity whose approval starts a follow-up sequence
type Quotation struct {
	ID          string          `json:"id" db:"id"`
	Number      string          `json:"quotation_number" db:"quotation_number"`
	LeadID      *string         `json:"lead_id,omitempty" db:"lead_id"`
	ClientName  string          `json:"client_name" db:"client_name"`
	Title       string          `json:"title" db:"title"`
	TotalAmount float64         `json:"total_amount" db:"total_amount"`
	Status      QuotationStatus `json:"status" db:"status"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	ApprovedBy  *string         `json:"approved_by,omitempty" db:"approved_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
