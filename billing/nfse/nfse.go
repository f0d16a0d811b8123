// Package nfse issues Brazilian service tax invoices (NFS-e) for paid
// invoices, through one of the supported emission providers. Emission is
// always best effort: a provider failure marks the invoice for reprocessing
// and never blocks payment handling.
package nfse

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrProviderNotConfigured = errors.New("nfse: provider is not configured")
	ErrUnknownProvider       = errors.New("nfse: unknown provider")
	ErrEmissionFailed        = errors.New("nfse: provider rejected the emission")
	ErrCancellationFailed    = errors.New("nfse: provider rejected the cancellation")
)

// Provider selects the emission backend.
type Provider string

const (
	ProviderFocus  Provider = "focus"
	ProviderEnotas Provider = "enotas"
)

// Config wires an emission provider from the environment.
type Config struct {
	Provider Provider `env:"NFSE_PROVIDER"`
	APIKey   string   `env:"NFSE_API_KEY"`
	// BaseURL overrides the provider endpoint, for sandbox environments.
	BaseURL string `env:"NFSE_BASE_URL"`
	// CompanyID identifies the issuing company at the provider (eNotas).
	CompanyID string `env:"NFSE_COMPANY_ID"`
	// ServiceCode is the municipal service code stamped on every NFS-e.
	ServiceCode string `env:"NFSE_SERVICE_CODE" envDefault:"1.03"`
}

// EmitParams describes one NFS-e to issue.
type EmitParams struct {
	InvoiceID          uuid.UUID
	Reference          string // invoice number, doubles as the provider ref
	Amount             int64  // minor currency units
	Currency           string
	ServiceDescription string
	CustomerName       string
	CustomerEmail      string
	CustomerTaxID      string // CPF or CNPJ, digits only
}

// Receipt is the provider's answer for an issued NFS-e.
type Receipt struct {
	ID     string
	Status string
	PDFURL string
	XMLURL string
}

// Emitter talks to one emission provider.
type Emitter interface {
	Emit(ctx context.Context, params EmitParams) (*Receipt, error)
	Cancel(ctx context.Context, id, reason string) error
}

// NewEmitter builds the emitter selected by cfg.
func NewEmitter(cfg Config) (Emitter, error) {
	switch cfg.Provider {
	case ProviderFocus:
		return NewFocusEmitter(cfg)
	case ProviderEnotas:
		return NewEnotasEmitter(cfg)
	case "":
		return nil, ErrProviderNotConfigured
	default:
		return nil, ErrUnknownProvider
	}
}
