package httpapi

import (
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/alejandrodnm/liqshield/internal/protection"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// orderView is the serialized form of a stored order. Amounts are decimal
// strings.
type orderView struct {
	ID                 string                  `json:"id"`
	Order              domain.Order            `json:"order"`
	Signature          string                  `json:"signature"`
	Extension          string                  `json:"extension"`
	Timestamp          time.Time               `json:"timestamp"`
	TriggerPrice       string                  `json:"triggerPrice"`
	TriggerDirection   domain.TriggerDirection `json:"triggerDirection"`
	ExpiresAt          *time.Time              `json:"expiresAt,omitempty"`
	ReconstructedOrder *reconstructedView      `json:"reconstructedOrder,omitempty"`
	Prices             *pricesView             `json:"prices,omitempty"`
}

type reconstructedView struct {
	OrderStruct     lop.OrderStruct      `json:"orderStruct"`
	Extension       string               `json:"extension"`
	Salt            string               `json:"salt"`
	Maker           string               `json:"maker"`
	Receiver        string               `json:"receiver"`
	MakerAsset      string               `json:"makerAsset"`
	TakerAsset      string               `json:"takerAsset"`
	MakingAmount    string               `json:"makingAmount"`
	TakingAmount    string               `json:"takingAmount"`
	MakerTraits     string               `json:"makerTraits"`
	OrderHash       string               `json:"orderHash,omitempty"`
	PostInteraction *postInteractionView `json:"postInteraction,omitempty"`
}

type postInteractionView struct {
	Target     string            `json:"target"`
	Data       string            `json:"data"`
	Batch      *protection.Batch `json:"batch,omitempty"`
	Mismatches []string          `json:"mismatches,omitempty"`
}

type pricesView struct {
	Maker string `json:"maker"`
	Taker string `json:"taker"`
	Ratio string `json:"ratio"`
}

func (s *Server) viewOf(o domain.StoredOrder) orderView {
	v := orderView{
		ID:               o.ID,
		Order:            o.Order,
		Signature:        o.Signature,
		Extension:        o.Extension,
		Timestamp:        o.Timestamp,
		TriggerPrice:     o.TriggerPrice.String(),
		TriggerDirection: o.TriggerDirection,
	}
	if exp := o.ExpiresAt(); !exp.IsZero() {
		v.ExpiresAt = &exp
	}
	if o.Reconstructed != nil {
		v.ReconstructedOrder = s.reconstructedOf(o.Reconstructed)
	}
	return v
}

func (s *Server) reconstructedOf(limit *lop.LimitOrder) *reconstructedView {
	st := limit.Struct()
	rv := &reconstructedView{
		OrderStruct:  st,
		Extension:    limit.Extension.Hex(),
		Salt:         st.Salt,
		Maker:        st.Maker,
		Receiver:     st.Receiver,
		MakerAsset:   st.MakerAsset,
		TakerAsset:   st.TakerAsset,
		MakingAmount: st.MakingAmount,
		TakingAmount: st.TakingAmount,
		MakerTraits:  st.MakerTraits,
	}
	if s.cfg.ChainID != 0 {
		if h, err := limit.Hash(s.cfg.ChainID, s.cfg.LimitOrderProtocol); err == nil {
			rv.OrderHash = h.Hex()
		}
	}
	if call, ok, err := limit.PostInteraction(); err == nil && ok {
		pv := &postInteractionView{Target: lop.HexAddress(call.Target), Data: hexutil.Encode(call.Data)}
		if batch, err := protection.DecodeExtraData(call.Data); err == nil {
			pv.Batch = &batch
			pv.Mismatches = batch.Mismatches(s.cfg.Deployment)
		}
		rv.PostInteraction = pv
	}
	return rv
}

func (s *Server) fillableViewOf(f domain.FillableOrder) orderView {
	v := s.viewOf(f.Order)
	pv := &pricesView{Maker: f.Prices.Maker.String(), Taker: f.Prices.Taker.String()}
	if r, err := f.Prices.Ratio(); err == nil {
		pv.Ratio = r.String()
	}
	v.Prices = pv
	return v
}
