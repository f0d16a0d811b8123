package nfse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const enotasDefaultBaseURL = "https://api.enotasgw.com.br/v1"

// EnotasEmitter issues NFS-e through the eNotas gateway, which fronts the
// municipal systems behind a single REST API keyed by company id.
type EnotasEmitter struct {
	cfg    Config
	client *http.Client
}

func NewEnotasEmitter(cfg Config) (*EnotasEmitter, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrProviderNotConfigured, errors.New("enotas API key is required"))
	}
	if cfg.CompanyID == "" {
		return nil, errors.Join(ErrProviderNotConfigured, errors.New("enotas company id is required"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = enotasDefaultBaseURL
	}
	return &EnotasEmitter{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (e *EnotasEmitter) Emit(ctx context.Context, params EmitParams) (*Receipt, error) {
	cliente := map[string]any{
		"nome":       params.CustomerName,
		"email":      params.CustomerEmail,
		"cpfCnpj":    params.CustomerTaxID,
		"tipoPessoa": tipoPessoa(params.CustomerTaxID),
	}
	servico := map[string]any{
		"descricao":              params.ServiceDescription,
		"codigoServicoMunicipio": e.cfg.ServiceCode,
	}
	payload := map[string]any{
		"idExterno":       params.Reference,
		"ambienteEmissao": "Producao",
		"cliente":         cliente,
		"servico":         servico,
		"valorTotal":      float64(params.Amount) / 100,
	}

	var resp struct {
		NfeID   string `json:"nfeId"`
		Status  string `json:"status"`
		LinkPDF string `json:"linkDownloadPDF"`
		LinkXML string `json:"linkDownloadXML"`
		Motivo  string `json:"motivoStatus"`
	}
	path := "/empresas/" + e.cfg.CompanyID + "/nfes"
	if err := e.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return nil, errors.Join(ErrEmissionFailed, err)
	}
	if resp.Status == "Negada" {
		return nil, fmt.Errorf("%w: %s", ErrEmissionFailed, resp.Motivo)
	}

	return &Receipt{
		ID:     resp.NfeID,
		Status: resp.Status,
		PDFURL: resp.LinkPDF,
		XMLURL: resp.LinkXML,
	}, nil
}

func (e *EnotasEmitter) Cancel(ctx context.Context, id, _ string) error {
	path := "/empresas/" + e.cfg.CompanyID + "/nfes/" + id
	if err := e.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return errors.Join(ErrCancellationFailed, err)
	}
	return nil
}

// tipoPessoa distinguishes individuals from companies by tax id length:
// eleven digits for a CPF, fourteen for a CNPJ.
func tipoPessoa(taxID string) string {
	if len(taxID) <= 11 {
		return "F"
	}
	return "J"
}

func (e *EnotasEmitter) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("enotas request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("enotas returned %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
