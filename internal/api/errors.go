package api

import (
	"errors"
	"net/http"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/catalog"
	"github.com/borsabridge/control-plane/internal/report"
	"github.com/borsabridge/control-plane/internal/session"
	"github.com/borsabridge/control-plane/internal/social"
	"github.com/borsabridge/control-plane/internal/store"
)

func statusForError(err error) int {
	var fatal *analysis.FatalError
	var retry *analysis.RetryError
	switch {
	case errors.Is(err, bridge.ErrSymbolRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bridge.ErrInvalidTransition), errors.Is(err, session.ErrAnalysisRunning):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrTypeRequired),
		errors.Is(err, bridge.ErrSelectionRequired),
		errors.Is(err, analysis.ErrNoImages),
		errors.Is(err, social.ErrTickerRequired),
		errors.Is(err, social.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, session.ErrNoReport),
		errors.Is(err, session.ErrImageIndex),
		errors.Is(err, report.ErrUnknownSection),
		errors.Is(err, catalog.ErrUnknownBot):
		return http.StatusNotFound
	case errors.As(err, &fatal), errors.Is(err, analysis.ErrNoKeys):
		return http.StatusBadGateway
	case errors.As(err, &retry), store.IsAccessError(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErrorFor(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusForError(err))
}
