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

const focusDefaultBaseURL = "https://api.focusnfe.com.br/v2"

// FocusEmitter issues NFS-e through Focus NFe. Authentication is HTTP basic
// with the API token as the username; the invoice number is reused as the
// provider-side reference so emissions are naturally idempotent.
type FocusEmitter struct {
	cfg    Config
	client *http.Client
}

func NewFocusEmitter(cfg Config) (*FocusEmitter, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrProviderNotConfigured, errors.New("focus API token is required"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = focusDefaultBaseURL
	}
	return &FocusEmitter{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (e *FocusEmitter) Emit(ctx context.Context, params EmitParams) (*Receipt, error) {
	payload := map[string]any{
		"data_emissao": time.Now().UTC().Format(time.RFC3339),
		"tomador": map[string]any{
			"razao_social": params.CustomerName,
			"email":        params.CustomerEmail,
			"cnpj":         params.CustomerTaxID,
		},
		"servico": map[string]any{
			"valor_servicos":     float64(params.Amount) / 100,
			"discriminacao":      params.ServiceDescription,
			"item_lista_servico": e.cfg.ServiceCode,
			"iss_retido":         false,
		},
	}

	var resp struct {
		Ref            string `json:"ref"`
		Status         string `json:"status"`
		CaminhoPDF     string `json:"caminho_danfse"`
		CaminhoXML     string `json:"caminho_xml_nota_fiscal"`
		MensagemStatus string `json:"mensagem"`
	}
	if err := e.do(ctx, http.MethodPost, "/nfse?ref="+params.Reference, payload, &resp); err != nil {
		return nil, errors.Join(ErrEmissionFailed, err)
	}
	if resp.Status == "erro_autorizacao" {
		return nil, fmt.Errorf("%w: %s", ErrEmissionFailed, resp.MensagemStatus)
	}

	return &Receipt{
		ID:     params.Reference,
		Status: resp.Status,
		PDFURL: resp.CaminhoPDF,
		XMLURL: resp.CaminhoXML,
	}, nil
}

func (e *FocusEmitter) Cancel(ctx context.Context, id, reason string) error {
	payload := map[string]any{"justificativa": reason}
	if err := e.do(ctx, http.MethodDelete, "/nfse/"+id, payload, nil); err != nil {
		return errors.Join(ErrCancellationFailed, err)
	}
	return nil
}

func (e *FocusEmitter) do(ctx context.Context, method, path string, payload, out any) error {
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
	req.SetBasicAuth(e.cfg.APIKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("focus request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("focus returned %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
