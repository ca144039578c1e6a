package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/alejandrodnm/liqshield/internal/application/resolver"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type submitBody struct {
	Order            *domain.Order    `json:"order"`
	Signature        string           `json:"signature"`
	Extension        string           `json:"extension"`
	TriggerPrice     *decimal.Decimal `json:"triggerPrice"`
	TriggerDirection string           `json:"triggerDirection"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

type transactionView struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	GasUsed         uint64 `json:"gasUsed"`
}

type fillResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	OrderID     string          `json:"orderId"`
	Transaction transactionView `json:"transaction"`
}

type cancelResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
}

// decodeSubmit parses the body strictly: unknown fields, trailing data and
// missing order or signature are validation errors.
func decodeSubmit(r *http.Request) (resolver.SubmitRequest, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var body submitBody
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return resolver.SubmitRequest{}, err
		}
		return resolver.SubmitRequest{}, domain.Validationf("invalid body: %v", err)
	}
	if dec.More() {
		return resolver.SubmitRequest{}, domain.Validationf("invalid body: trailing data")
	}
	if body.Order == nil {
		return resolver.SubmitRequest{}, domain.Validationf("order is required")
	}
	if strings.TrimSpace(body.Signature) == "" {
		return resolver.SubmitRequest{}, domain.Validationf("signature is required")
	}
	if body.TriggerPrice == nil {
		return resolver.SubmitRequest{}, domain.Validationf("triggerPrice is required")
	}
	direction, err := domain.ParseTriggerDirection(body.TriggerDirection)
	if err != nil {
		return resolver.SubmitRequest{}, err
	}

	return resolver.SubmitRequest{
		Order:            *body.Order,
		Signature:        body.Signature,
		Extension:        body.Extension,
		TriggerPrice:     *body.TriggerPrice,
		TriggerDirection: direction,
	}, nil
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(r)
	if err != nil {
		s.metrics.OrderSubmitted("rejected")
		writeError(w, r, err)
		return
	}
	id, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		Success: true,
		Message: "Order submitted successfully",
		OrderID: id,
	})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, s.viewOf(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(o))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminToken == "" {
		http.NotFound(w, r)
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "UNAUTHORIZED"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.svc.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Success: true, OrderID: id})
}

// fillableOrders never fails because of prices; orders whose lookup failed
// are simply absent.
func (s *Server) fillableOrders(w http.ResponseWriter, r *http.Request) {
	eval, err := s.svc.Fillable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderView, 0, len(eval.Fillable))
	for _, f := range eval.Fillable {
		out = append(out, s.fillableViewOf(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fillOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.svc.Fill(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fillResponse{
		Success: true,
		Message: "Order filled successfully",
		OrderID: id,
		Transaction: transactionView{
			TransactionHash: res.TxHash.Hex(),
			BlockNumber:     res.BlockNumber,
			GasUsed:         res.GasUsed,
		},
	})
}
