package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/links"
	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// MaxDefinitionBytes caps an uploaded flow definition.
const MaxDefinitionBytes = 256 << 10

// ChannelAPI marks messages injected through the HTTP API.
const ChannelAPI = "api"

type healthStatus struct {
	Uptime          string `json:"uptime"`
	CatalogEntries  int    `json:"catalog_entries"`
	CatalogReadable bool   `json:"catalog_readable"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := healthStatus{Uptime: time.Since(s.started).Round(time.Second).String()}
	if snap, err := s.index.Get(r.Context()); err != nil {
		slog.Warn("Server.healthHandler: catalog unavailable", "error", err)
	} else {
		h.CatalogReadable = true
		h.CatalogEntries = snap.Len()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(h))
}

// messageHandler runs one synchronous turn and returns the rendered reply.
// The reply is also queued for delivery like any channel message.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	from, err := messaging.CanonicalizePhone(msg.From)
	if err != nil {
		slog.Warn("Server.messageHandler: invalid sender", "from", msg.From, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	msg.From = from
	if msg.Channel.Channel == "" {
		msg.Channel.Channel = ChannelAPI
	}
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	if err := msg.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.engine.HandleInbound(r.Context(), msg)
	if err != nil {
		slog.Error("Server.messageHandler: turn failed", "from", msg.From, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	slog.Info("Server.messageHandler: turn handled", "from", msg.From, "duplicate", res.Duplicate)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := messaging.CanonicalizePhone(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return "", false
	}
	return id, true
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.engine.Sessions().Peek(id)
	if err != nil {
		slog.Error("Server.getSessionHandler: load failed", "customerID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// resetSessionHandler closes and archives the customer's session.
func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Sessions().Reset(r.Context(), id); err != nil {
		slog.Error("Server.resetSessionHandler: reset failed", "customerID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset session"))
		return
	}
	slog.Info("Server.resetSessionHandler: session archived", "customerID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session archived", nil))
}

func (s *Server) invalidateCatalogHandler(w http.ResponseWriter, r *http.Request) {
	s.index.Invalidate()
	snap, err := s.index.Get(r.Context())
	if err != nil {
		slog.Error("Server.invalidateCatalogHandler: rebuild failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to rebuild catalog"))
		return
	}
	slog.Info("Server.invalidateCatalogHandler: catalog rebuilt", "entries", snap.Len())
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Catalog reloaded", map[string]int{"entries": snap.Len()}))
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	defs, err := s.st.ListFlowDefinitions()
	if err != nil {
		slog.Error("Server.listFlowsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list flow definitions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(defs))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	def, err := s.st.GetFlowDefinition(key)
	if err != nil {
		slog.Error("Server.getFlowHandler: load failed", "key", key, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load flow definition"))
		return
	}
	if def == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow definition not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(def))
}

// saveFlowHandler accepts a YAML (or JSON) flow definition, validates it and
// stores it. Counters of an existing definition are kept.
func (s *Server) saveFlowHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	def, err := flow.ParseDefinition(io.LimitReader(r.Body, MaxDefinitionBytes))
	if err != nil {
		slog.Warn("Server.saveFlowHandler: parse failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.validator.Validate(&def); err != nil {
		slog.Warn("Server.saveFlowHandler: definition rejected", "key", def.Key, "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveFlowDefinition(def); err != nil {
		slog.Error("Server.saveFlowHandler: save failed", "key", def.Key, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow definition"))
		return
	}
	slog.Info("Server.saveFlowHandler: definition saved", "key", def.Key, "steps", len(def.Steps))
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow definition saved", map[string]string{"key": def.Key}))
}

// linkHandler redirects a tracked short link to its destination.
func (s *Server) linkHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	link, err := s.opts.Links.Resolve(r.Context(), code)
	if errors.Is(err, links.ErrLinkNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("Server.linkHandler: resolve failed", "code", code, "error", err)
		http.Error(w, "link unavailable", http.StatusInternalServerError)
		return
	}
	slog.Info("Server.linkHandler: link followed", "code", code, "customerID", link.CustomerID)
	http.Redirect(w, r, link.URL, http.StatusFound)
}
