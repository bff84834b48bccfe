package models

// CustomExpiry is an explicit expiry override supplied by a caller whose
// policy permits it.
type CustomExpiry struct {
	Permanent bool   `json:"permanent"`
	Value     int    `json:"value" validate:"omitempty,min=1"`
	Unit      string `json:"unit" validate:"omitempty,oneof=days months years"`
}

// ShortenRequest is the JSON body of both the interactive and the developer
// shorten endpoints.
type ShortenRequest struct {
	LongURL      string        `json:"longUrl" validate:"required"`
	Alias        string        `json:"alias"`
	CustomExpiry *CustomExpiry `json:"customExpiry,omitempty"`
}

// RegisterRequest is the signup body.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest is the login body.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SettingsRequest updates per-user preferences.
type SettingsRequest struct {
	WarningThresholdHours int `json:"warningThreshold" validate:"min=1"`
}

// PermissionsRequest mutates per-user flags. Nil fields are left untouched.
type PermissionsRequest struct {
	IsAdmin            *bool `json:"isAdmin,omitempty"`
	CanSetCustomExpiry *bool `json:"canSetCustomExpiry,omitempty"`
}

// ExtendRequest moves the expiry of the caller's links to a new instant.
type ExtendRequest struct {
	IDs          []string `json:"urlIds" validate:"required,min=1"`
	NewExpiresAt Millis   `json:"newExpiresAt"`
}

// UserLinksResponse splits the caller's links by derived activeness.
type UserLinksResponse struct {
	Active       []LinkRecord `json:"active"`
	ExpiringSoon []LinkRecord `json:"expiringSoon"`
	Expired      []LinkRecord `json:"expired"`
}

// OrderRequest asks the payment gateway for a new order.
type OrderRequest struct {
	Amount   int64  `json:"amount" validate:"required,min=1"`
	Currency string `json:"currency" validate:"required,len=3"`
	Receipt  string `json:"receipt"`
}

// Order is the opaque order handle returned by the payment gateway.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// PurchaseKind says what a confirmed payment buys.
type PurchaseKind string

// Purchase kinds accepted by the payment confirmation endpoint.
const (
	PurchaseSubscription PurchaseKind = "subscription"
	PurchaseAPIPlan      PurchaseKind = "api-plan"
)

// ConfirmPaymentRequest reports a gateway-confirmed payment and the plan it
// purchased.
type ConfirmPaymentRequest struct {
	PaymentID     string       `json:"paymentId" validate:"required"`
	Kind          PurchaseKind `json:"kind" validate:"required,oneof=subscription api-plan"`
	Plan          string       `json:"planId" validate:"required"`
	Amount        int64        `json:"amount" validate:"required,min=1"`
	Currency      string       `json:"currency" validate:"required,len=3"`
	DurationLabel string       `json:"durationLabel" validate:"required"`
}

// QrCodeRequest appends a QR generation event.
type QrCodeRequest struct {
	Type    string `json:"type" validate:"required"`
	Payload string `json:"payload" validate:"required"`
}

// ScanRequest appends a QR scan event.
type ScanRequest struct {
	Content string `json:"content" validate:"required"`
}

// InternalStatsResponse is served to the trusted subnet only.
type InternalStatsResponse struct {
	URLs  int64 `json:"urls"`
	Users int64 `json:"users"`
}

// APIError is the machine-readable error body of the developer API.
type APIError struct {
	Error string `json:"error"`
}
