package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRendererKeepsFacts(t *testing.T) {
	facts := map[string]any{
		"product": "Malla sombra confeccionada 4x5 m 90%",
		"price":   "$649",
		"link":    "https://l.test/conf-4x5",
	}
	tests := []struct {
		name    string
		answer  string
		wantErr error
	}{
		{"all facts kept", "¡Claro! La malla de 4x5 m cuesta $649. Cómprala aquí: https://l.test/conf-4x5", nil},
		{"price rewritten", "La malla cuesta 649 pesos: https://l.test/conf-4x5", ErrFactsDropped},
		{"link missing", "La malla cuesta $649.", ErrFactsDropped},
		{"empty answer", "", ErrNoChoicesReturned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubClient{text: tt.answer}
			got, err := NewRenderer(stub).Render(context.Background(), "quote", facts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Render() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.answer {
				t.Errorf("Render() = %q", got)
			}
			if !strings.Contains(stub.lastUser, `"tag":"quote"`) || !strings.Contains(stub.lastUser, "https://l.test/conf-4x5") {
				t.Errorf("request = %s", stub.lastUser)
			}
		})
	}
}

func TestRendererClientError(t *testing.T) {
	boom := errors.New("quota")
	_, err := NewRenderer(&stubClient{err: boom}).Render(context.Background(), "wholesale_ack", map[string]any{"quantity": 20})
	if !errors.Is(err, boom) {
		t.Fatalf("Render() error = %v", err)
	}
}
