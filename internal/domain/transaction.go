package domain

import (
	"math"
	"strings"
	"time"
)

// TransactionStatus is the lifecycle state of a credit application.
type TransactionStatus string

const (
	StatusPending                 TransactionStatus = "pending"
	StatusClientDataReceived      TransactionStatus = "client_data_received"
	StatusStoreValidationReceived TransactionStatus = "store_validation_received"
	StatusProcessing              TransactionStatus = "processing"
	StatusCompleted               TransactionStatus = "completed"
	StatusExpired                 TransactionStatus = "expired"
	StatusError                   TransactionStatus = "error"
)

// Terminal reports whether no further submissions are accepted.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Transaction is one credit application flow, identified by its token.
type Transaction struct {
	Token       string            `json:"token"`
	StoreID     string            `json:"store_id,omitempty"`
	TenderoName string            `json:"tendero_name,omitempty"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExpiresAt   time.Time         `json:"expires_at"`

	ClientData      *ClientData       `json:"client_data,omitempty"`
	StoreValidation *StoreValidation  `json:"store_validation,omitempty"`
	CreditResult    *CreditAssessment `json:"credit_result,omitempty"`
	Review          *Review           `json:"review,omitempty"`

	// Version increments on every stored update.
	Version int64 `json:"version"`
}

// ExpiredAt reports whether the transaction's TTL has elapsed at now.
func (t *Transaction) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// EffectiveStatus is the status presented to readers: EXPIRED overrides the
// stored status once the TTL has elapsed.
func (t *Transaction) EffectiveStatus(now time.Time) TransactionStatus {
	if t.ExpiredAt(now) {
		return StatusExpired
	}
	return t.Status
}

// Clone returns a deep copy safe to mutate.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.ClientData != nil {
		cd := *t.ClientData
		cd.IngresosMensuales = cloneFloat(t.ClientData.IngresosMensuales)
		c.ClientData = &cd
	}
	if t.StoreValidation != nil {
		sv := *t.StoreValidation
		sv.DistanceKm = cloneFloat(t.StoreValidation.DistanceKm)
		sv.AddressVerified = cloneBool(t.StoreValidation.AddressVerified)
		c.StoreValidation = &sv
	}
	if t.CreditResult != nil {
		cr := *t.CreditResult
		cr.Features.DistanceRaw = cloneFloat(t.CreditResult.Features.DistanceRaw)
		c.CreditResult = &cr
	}
	if t.Review != nil {
		rv := *t.Review
		rv.Reasons = append([]string(nil), t.Review.Reasons...)
		c.Review = &rv
	}
	return &c
}

// ClientData is the customer-submitted half of an application (WhatsApp channel).
type ClientData struct {
	Telefono          string   `json:"telefono"`
	Direccion         string   `json:"direccion,omitempty"`
	IngresosMensuales *float64 `json:"ingresos_mensuales,omitempty"`
	Trabajo           string   `json:"trabajo,omitempty"`
	PsychOrganized    int      `json:"psych_organized"`
	PsychPlan         int      `json:"psych_plan"`
}

// Validate enforces the field ranges of the customer half.
func (c *ClientData) Validate() error {
	if strings.TrimSpace(c.Telefono) == "" {
		return invalid("telefono", "is required")
	}
	if c.PsychOrganized < 1 || c.PsychOrganized > 5 {
		return invalid("psych_organized", "must be between 1 and 5")
	}
	if c.PsychPlan < 1 || c.PsychPlan > 5 {
		return invalid("psych_plan", "must be between 1 and 5")
	}
	if c.IngresosMensuales != nil && (*c.IngresosMensuales < 0 || math.IsNaN(*c.IngresosMensuales)) {
		return invalid("ingresos_mensuales", "must be >= 0")
	}
	return nil
}

// StoreValidation is the store owner's assessment of the customer (POS channel).
type StoreValidation struct {
	CedulaCliente   string   `json:"cedula_cliente"`
	NombreCliente   string   `json:"nombre_cliente"`
	KnowBuyer       int      `json:"know_buyer"`
	BuyFreq         int      `json:"buy_freq"`
	AvgPurchase     float64  `json:"avg_purchase"`
	DistanceKm      *float64 `json:"distance_km,omitempty"`
	AddressVerified *bool    `json:"address_verified,omitempty"`
}

// Validate enforces the field ranges of the store half.
func (s *StoreValidation) Validate() error {
	if strings.TrimSpace(s.CedulaCliente) == "" {
		return invalid("cedula_cliente", "is required")
	}
	if strings.TrimSpace(s.NombreCliente) == "" {
		return invalid("nombre_cliente", "is required")
	}
	if s.KnowBuyer < 0 || s.KnowBuyer > 5 {
		return invalid("know_buyer", "must be between 0 and 5")
	}
	if s.BuyFreq < 0 || s.BuyFreq > 5 {
		return invalid("buy_freq", "must be between 0 and 5")
	}
	if !(s.AvgPurchase > 0) || math.IsInf(s.AvgPurchase, 0) {
		return invalid("avg_purchase", "must be > 0")
	}
	if s.DistanceKm != nil && !(*s.DistanceKm >= 0) {
		return invalid("distance_km", "must be >= 0")
	}
	return nil
}

// MergeApplication combines both halves into the scoring input.
func MergeApplication(client *ClientData, store *StoreValidation) RawApplicationInput {
	var raw RawApplicationInput
	if client != nil {
		raw.PsychOrganized = intPtr(client.PsychOrganized)
		raw.PsychPlan = intPtr(client.PsychPlan)
	}
	if store != nil {
		raw.KnowBuyer = intPtr(store.KnowBuyer)
		raw.BuyFreq = intPtr(store.BuyFreq)
		avg := store.AvgPurchase
		raw.AvgPurchase = &avg
		raw.DistanceKm = cloneFloat(store.DistanceKm)
		raw.AddressVerified = cloneBool(store.AddressVerified)
	}
	return raw
}

// TransactionPatch is a set of named optional changes applied to a transaction.
// Fields are applied one at a time, each validated first.
type TransactionPatch struct {
	ClientData      *ClientData
	StoreValidation *StoreValidation
	Status          *TransactionStatus
	CreditResult    *CreditAssessment
	Review          *Review
}

// Apply validates and applies the patch in field order. On error the
// transaction may be partially modified and must be discarded.
func (p TransactionPatch) Apply(tx *Transaction) error {
	if p.ClientData != nil {
		if err := p.ClientData.Validate(); err != nil {
			return err
		}
		cd := *p.ClientData
		tx.ClientData = &cd
	}
	if p.StoreValidation != nil {
		if err := p.StoreValidation.Validate(); err != nil {
			return err
		}
		sv := *p.StoreValidation
		tx.StoreValidation = &sv
	}
	if p.CreditResult != nil {
		cr := *p.CreditResult
		tx.CreditResult = &cr
	}
	if p.Review != nil {
		rv := *p.Review
		tx.Review = &rv
	}
	if p.Status != nil {
		if *p.Status == StatusCompleted && tx.CreditResult == nil {
			return invalid("status", "completed requires a credit result")
		}
		if *p.Status != StatusCompleted && tx.CreditResult != nil {
			return invalid("status", "credit result is only kept on completed transactions")
		}
		tx.Status = *p.Status
	}
	return nil
}

// StatusPtr returns a pointer to s, for patches.
func StatusPtr(s TransactionStatus) *TransactionStatus {
	return &s
}

func intPtr(v int) *int {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
