// Package models defines the persisted record shapes, request/response
// bodies and the shared error taxonomy of the link shortening service.
package models

import "time"

// SubscriptionPlan is an interactive subscription tier. It governs the
// default lifetime of interactively created links.
type SubscriptionPlan string

// Interactive subscription tiers.
const (
	PlanMonthly    SubscriptionPlan = "monthly"
	PlanSemiAnnual SubscriptionPlan = "semi-annually"
	PlanYearly     SubscriptionPlan = "yearly"
)

// APIPlan is a developer API subscription tier.
type APIPlan string

// Developer API tiers.
const (
	APIPlanFree  APIPlan = "free"
	APIPlanBasic APIPlan = "basic"
	APIPlanPro   APIPlan = "pro"
)

// Subscription is an interactive subscription attached to a user.
type Subscription struct {
	Plan      SubscriptionPlan `json:"planId"`
	ExpiresAt Millis           `json:"expiresAt"`
}

// ActiveAt reports whether the subscription is active at the given instant.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// APISubscription is the plan attached to an issued API key.
type APISubscription struct {
	Plan      APIPlan `json:"planId"`
	ExpiresAt Millis  `json:"expiresAt"`
}

// APIAccess couples an API key with its subscription. Its lifecycle is
// independent from the interactive subscription.
type APIAccess struct {
	Key          string          `json:"apiKey"`
	Subscription APISubscription `json:"subscription"`
}

// Settings holds per-user preferences.
type Settings struct {
	// WarningThresholdHours is how many hours before expiry a link is
	// flagged as expiring soon.
	WarningThresholdHours int `json:"warningThreshold"`
}

// LinkRecord is an alias to long URL mapping.
//
// The alias is unique among currently active records only: an expired
// record may coexist with an active one of the same alias transiently,
// until the reclaim upsert overwrites it.
type LinkRecord struct {
	ID          string `json:"id"`
	LongURL     string `json:"longUrl"`
	Alias       string `json:"alias"`
	ShortURL    string `json:"shortUrl"`
	CreatedAt   Millis `json:"createdAt"`
	ExpiresAt   Millis `json:"expiresAt"`
	OwnerUserID string `json:"userId,omitempty"`
}

// ActiveAt reports whether the record is active at the given instant.
// Activeness is always derived, never stored.
func (r *LinkRecord) ActiveAt(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// PaymentRecord is an append-only receipt of a completed transaction.
// It is never mutated or deleted.
type PaymentRecord struct {
	ID            string `json:"id"`
	PaymentID     string `json:"paymentId"`
	UserID        string `json:"userId"`
	UserEmail     string `json:"userEmail"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	DurationLabel string `json:"durationLabel"`
	CreatedAt     Millis `json:"createdAt"`
}

// QrCodeRecord is an append-only log entry of a QR code generation event.
type QrCodeRecord struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"userId,omitempty"`
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	CreatedAt   Millis `json:"createdAt"`
}

// ScanRecord is an append-only log entry of a QR scan event.
type ScanRecord struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"userId,omitempty"`
	Content     string `json:"content"`
	ScannedAt   Millis `json:"scannedAt"`
}

// CascadeDeleteJob asks the background remover to drop every link owned by
// a user.
type CascadeDeleteJob struct {
	OwnerUserID string
}

// Storage backend kinds, selected from the configuration.
const (
	StorageTypeUnknown = iota
	StorageTypeMemory
	StorageTypeFile
	StorageTypePostgresql
)
