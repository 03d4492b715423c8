package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestInboundMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want error
	}{
		{"valid", InboundMessage{From: "5215550001111", Body: "hola"}, nil},
		{"blank sender", InboundMessage{From: " ", Body: "hola"}, ErrEmptySender},
		{"blank body", InboundMessage{From: "5215550001111", Body: "\n"}, ErrEmptyBody},
		{"too long", InboundMessage{From: "5215550001111", Body: strings.Repeat("a", MaxInboundBodyLength+1)}, ErrBodyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClassificationProductFlow(t *testing.T) {
	tests := []struct {
		product string
		want    FlowType
	}{
		{"rollo", FlowRollo},
		{" Confeccionada ", FlowConfeccionada},
		{"unknown", ""},
		{"default", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := (Classification{Product: tt.product}).ProductFlow(); got != tt.want {
			t.Errorf("ProductFlow(%q) = %q, want %q", tt.product, got, tt.want)
		}
	}
}

func TestCampaignIsLeadCapture(t *testing.T) {
	var nilCampaign *CampaignContext
	if nilCampaign.IsLeadCapture() {
		t.Error("nil campaign is lead capture")
	}
	if (&CampaignContext{ID: "c1"}).IsLeadCapture() {
		t.Error("plain campaign is lead capture")
	}
	for _, s := range []LeadScenario{LeadScenarioB2B, LeadScenarioDistributor} {
		if !(&CampaignContext{LeadScenario: s}).IsLeadCapture() {
			t.Errorf("%s not lead capture", s)
		}
	}
}

func TestSessionSwitchFlowResetsSpecs(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("5215550001111", now)
	if s.CurrentFlow() != FlowDefault || s.PurchaseIntent != IntentMedium {
		t.Fatalf("new session = %+v", s)
	}
	w := 4.0
	s.ProductSpecs.Width = &w
	s.SwitchFlow(FlowRollo)
	if s.ProductSpecs.Has(FieldWidth) || s.ProductInterest != "rollo" || !s.State.Is(StateIdle, FlowRollo) {
		t.Errorf("after switch = %+v", s)
	}

	s.ProductSpecs.Width = &w
	s.SwitchFlow(FlowRollo)
	if !s.ProductSpecs.Has(FieldWidth) {
		t.Error("switching to the same flow reset specs")
	}
}

func TestSessionPendingSlot(t *testing.T) {
	now := time.Now()
	s := NewSession("5215550001111", now)
	s.SetPendingConfirmation(PendingConfirmSwitch, FlowBorde, "", now)
	if s.PendingConfirmation() == nil || s.PendingHandoff() != nil {
		t.Fatalf("pending = %+v", s.Pending)
	}
	s.SetPendingHandoff("Cotización con envío", now)
	if s.PendingConfirmation() != nil || s.PendingHandoff() == nil {
		t.Fatalf("pending = %+v", s.Pending)
	}
	s.ClearPending()
	if s.Pending != nil {
		t.Error("pending not cleared")
	}
}

func TestSessionHandoffAndClose(t *testing.T) {
	now := time.Now()
	s := NewSession("5215550001111", now)
	s.SwitchFlow(FlowConfeccionada)
	s.RequestHandoff("Pedido especial", now)
	if !s.Handoff.Requested || !s.State.Is(StateHandoff, FlowConfeccionada) {
		t.Errorf("handoff state = %+v", s.State)
	}
	s.Close()
	if !s.IsClosed() || s.State.Kind != StateClosed || s.Pending != nil {
		t.Errorf("closed session = %+v", s)
	}
}

func TestProductSpecsQuantityOr(t *testing.T) {
	var p ProductSpecs
	if p.QuantityOr(1) != 1 {
		t.Error("default not used")
	}
	q := 3
	p.Quantity = &q
	if p.QuantityOr(1) != 3 || !p.Has(FieldQuantity) {
		t.Error("quantity not read")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if r := Success(1); r.Status != string(APIStatusOK) || r.Result != 1 {
		t.Errorf("Success = %+v", r)
	}
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("Error = %+v", r)
	}
	if r := SuccessWithMessage("ok", nil); r.Message != "ok" || r.Result != nil {
		t.Errorf("SuccessWithMessage = %+v", r)
	}
}
