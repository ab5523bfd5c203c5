package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/social"
)

func (s *Server) listBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"bots":   s.session.Catalog().Bots(),
		"active": s.session.Bot().Key,
	})
}

func (s *Server) getActiveBot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.session.Bot())
}

type selectBotRequestBody struct {
	Key string `json:"key" validate:"required,max=64"`
}

func (s *Server) selectBot(w http.ResponseWriter, r *http.Request) {
	var req selectBotRequestBody
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	bot, err := s.session.SelectBot(strings.TrimSpace(req.Key))
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, bot)
}

type keyView struct {
	Key         string `json:"key"`
	CoolingDown bool   `json:"cooling_down"`
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	views := []keyView{}
	if s.keys != nil {
		for _, key := range s.keys.Keys() {
			views = append(views, keyView{Key: analysis.MaskKey(key), CoolingDown: s.keys.CoolingDown(key)})
		}
	}
	writeJSON(w, map[string]any{"keys": views})
}

type replaceKeysRequestBody struct {
	Keys []string `json:"keys" validate:"required,min=1,dive,required"`
}

// replaceKeys swaps the key pool and persists it to the key file when one is
// configured.
func (s *Server) replaceKeys(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, "analysis is not configured", http.StatusServiceUnavailable)
		return
	}
	var req replaceKeysRequestBody
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	s.keys.Replace(req.Keys)
	if path := strings.TrimSpace(s.keyFile.Path); path != "" {
		if err := s.keyFile.Save(s.keys.Keys()); err != nil {
			s.logger.Error("save key file failed", zap.String("path", path), zap.Error(err))
			writeError(w, "keys applied but not saved: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	s.logger.Info("api keys replaced", zap.Int("count", s.keys.Len()))
	s.listKeys(w, r)
}

func (s *Server) probeKeys(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeJSON(w, map[string]any{"results": []analysis.ProbeResult{}})
		return
	}
	writeJSON(w, map[string]any{"results": s.prober.Probe(r.Context())})
}

// searchLink takes ticker, mode (live|historical) and date (YYYY-MM-DD,
// default today) query parameters.
func (s *Server) searchLink(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode, err := social.ParseMode(query.Get("mode"))
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	date := s.now()
	if raw := strings.TrimSpace(query.Get("date")); raw != "" {
		date, err = time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	link, err := social.SearchURL(query.Get("ticker"), mode, date)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, map[string]string{"url": link})
}
