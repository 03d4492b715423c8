package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// intentRoute answers one flow-agnostic intent.
type intentRoute func(d *Dispatcher, t *Turn) *models.Reply

// Dispatcher routes intents that are answered the same way in every flow:
// pleasantries, logistics questions and escalation.
type Dispatcher struct {
	routes        map[string]intentRoute
	storefrontURL string
	now           func() time.Time
}

// NewDispatcher creates the intent dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	o := resolveOpts(opts)
	return &Dispatcher{routes: dispatcherRoutes, storefrontURL: o.StorefrontURL, now: o.Clock}
}

var dispatcherRoutes = map[string]intentRoute{
	models.IntentGreeting: func(d *Dispatcher, t *Turn) *models.Reply {
		if f := t.Session.CurrentFlow(); f.IsProduct() {
			return d.text("¡Hola de nuevo! Seguimos con tu " + f.DisplayName() + ". ¿En qué más te ayudo?")
		}
		return d.text(defaultIntro)
	},
	models.IntentThanks: func(d *Dispatcher, t *Turn) *models.Reply {
		return d.text("¡Con gusto! Si necesitas algo más aquí estoy.")
	},
	models.IntentGoodbye: func(d *Dispatcher, t *Turn) *models.Reply {
		t.Session.Close()
		return d.text("¡Gracias por escribirnos! Que tengas excelente día.")
	},
	models.IntentOptOut: func(d *Dispatcher, t *Turn) *models.Reply {
		t.Session.Close()
		return d.text("Entendido, no te enviaremos más mensajes. Si nos necesitas, escríbenos cuando quieras.")
	},
	models.IntentHumanRequest: func(d *Dispatcher, t *Turn) *models.Reply {
		t.Session.ClearPending()
		t.Session.RequestHandoff("El cliente pidió hablar con un asesor: "+t.Text, d.now())
		return d.text("Claro, ya le avisé a un asesor y en breve te escribe por aquí.")
	},
	models.IntentShipping: func(d *Dispatcher, t *Turn) *models.Reply {
		return d.text("Hacemos envíos a todo México por paquetería, normalmente llegan de 2 a 5 días hábiles. ¿Me compartes tu código postal para cotizarte?")
	},
	models.IntentPayment: func(d *Dispatcher, t *Turn) *models.Reply {
		return d.text("Puedes pagar con tarjeta de crédito o débito, transferencia o en OXXO desde el enlace de compra.")
	},
	models.IntentLocation: func(d *Dispatcher, t *Turn) *models.Reply {
		msg := "Somos tienda en línea con envío a todo México."
		if d.storefrontURL != "" {
			msg += " Puedes ver todo el catálogo en " + d.storefrontURL
		}
		return d.text(msg)
	},
	models.IntentHours: func(d *Dispatcher, t *Turn) *models.Reply {
		return d.text("Te atendemos de lunes a sábado de 9:00 a 19:00 h. Por aquí puedes escribirnos a cualquier hora.")
	},
	models.IntentSpam: func(d *Dispatcher, t *Turn) *models.Reply {
		return &models.Reply{Silent: true, Handler: "dispatcher"}
	},
}

// isDispatcherIntent reports whether the dispatcher owns an intent.
func isDispatcherIntent(intent string) bool {
	_, ok := dispatcherRoutes[intent]
	return ok
}

func (d *Dispatcher) text(s string) *models.Reply {
	return &models.Reply{Text: s, Handler: "dispatcher"}
}

// Dispatch answers a flow-agnostic intent. It returns nil for intents it
// does not own.
func (d *Dispatcher) Dispatch(_ context.Context, t *Turn) *models.Reply {
	route, ok := d.routes[t.Classification.Intent]
	if !ok {
		return nil
	}
	slog.Debug("Dispatcher.Dispatch", "intent", t.Classification.Intent, "customerID", t.CustomerID)
	t.Session.LastIntent = t.Classification.Intent
	return route(d, t)
}

// coupled reports whether an intent belongs to the active flow this turn
// rather than to the dispatcher: the flow waits for a postal code and the
// customer talks about location or shipping, or the message carries
// product facts the flow must consume.
func coupled(intent string, sess *models.Session, ents entities.Entities) bool {
	switch intent {
	case models.IntentHumanRequest, models.IntentGoodbye, models.IntentOptOut, models.IntentSpam:
		return false
	}
	if sess.State.Kind == models.StateAwaitingPostalCode &&
		(intent == models.IntentLocation || intent == models.IntentShipping) {
		return true
	}
	if sess.PendingHandoff() != nil && ents.PostalCode != "" {
		return true
	}
	return !ents.Empty()
}
