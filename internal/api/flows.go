package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/flows"
	"github.com/Proton-105/himera-lend/internal/middleware"
	"github.com/Proton-105/himera-lend/internal/wizard"
)

type createFlowRequest struct {
	Kind    string `json:"kind"`
	Network string `json:"network"`
	User    string `json:"user,omitempty"`
}

type closeFlowRequest struct {
	Reason string `json:"reason"`
}

// flowResponse wraps a snapshot with the outcome of the call that produced it.
type flowResponse struct {
	Flow      flows.View `json:"flow"`
	Completed *bool      `json:"completed,omitempty"`
	Closed    *bool      `json:"closed,omitempty"`
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req createFlowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.User == "" {
		req.User = r.Header.Get(middleware.WalletHeader)
	}

	session, err := s.flows.Create(r.Context(), req.Kind, req.Network, req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, flowResponse{Flow: session.View()})
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	session, err := s.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View()})
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := s.flows.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if session.Submitting() {
		s.writeError(w, r, apperrors.NewInProgressError(id))
		return
	}
	s.flows.Registry().Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	var patch flows.Patch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.flows.Update(chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View()})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	session, completed, err := s.flows.Next(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View(), Completed: &completed})
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	session, err := s.flows.Previous(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View()})
}

func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("Invalid step index"))
		return
	}

	session, err := s.flows.GoTo(chi.URLParam(r, "id"), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View()})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	session, err := s.flows.Open(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View()})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	req := closeFlowRequest{Reason: string(wizard.CloseExplicit)}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	reason, ok := parseCloseReason(req.Reason)
	if !ok {
		s.writeError(w, r, apperrors.NewValidationError("Invalid close reason"))
		return
	}

	session, closed, err := s.flows.Close(chi.URLParam(r, "id"), reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: session.View(), Closed: &closed})
}

// handleSubmit starts the action and answers before it settles. Progress is
// streamed on the events route and reflected in later snapshots.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.flows.Submit(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.flows.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, flowResponse{Flow: session.View()})
}

func parseCloseReason(raw string) (wizard.CloseReason, bool) {
	switch reason := wizard.CloseReason(raw); reason {
	case "":
		return wizard.CloseExplicit, true
	case wizard.CloseExplicit, wizard.CloseOverlay, wizard.CloseEscape:
		return reason, true
	default:
		return "", false
	}
}
