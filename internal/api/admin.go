package api

import (
	"net/http"
	"sort"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/internal/version"
)

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleModels lists every configured model in the OpenAI list shape. Each
// model appears twice: as its "provider,model" route string, so clients can
// discover direct routes, and as the bare model id.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	cfg := s.manager.Get()

	type model struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var data []model
	seen := make(map[string]struct{})
	add := func(id, owner string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		data = append(data, model{ID: id, Object: "model", OwnedBy: owner})
	}
	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			add(p.Name+","+m, p.Name)
			add(m, p.Name)
		}
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	s.writeJSON(w, map[string]any{"object": "list", "data": data})
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	cfg := s.manager.Get()

	type preset struct {
		Name        string   `json:"name"`
		Route       string   `json:"route"`
		Temperature *float64 `json:"temperature,omitempty"`
		MaxTokens   *int     `json:"max_tokens,omitempty"`
		Stream      *bool    `json:"stream,omitempty"`
	}
	presets := make([]preset, 0, len(cfg.Presets))
	for name, p := range cfg.Presets {
		presets = append(presets, preset{
			Name:        name,
			Route:       p.Route,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Stream:      p.Stream,
		})
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })

	s.writeJSON(w, map[string]any{"presets": presets})
}

// handleLatencies exposes the router's EWMA table.
func (s *Server) handleLatencies(w http.ResponseWriter, _ *http.Request) {
	type tierLatency struct {
		EwmaMS      float64 `json:"ewma_ms"`
		Samples     uint64  `json:"samples"`
		RateLimited bool    `json:"rate_limited"`
	}
	out := make(map[string]tierLatency)
	for tier, state := range s.tracker.Snapshot() {
		out[tier] = tierLatency{
			EwmaMS:      state.EwmaMS,
			Samples:     state.Samples,
			RateLimited: s.tracker.ShouldSkip(tier),
		}
	}
	s.writeJSON(w, map[string]any{"tiers": out})
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"tiers": s.accountant.Totals()})
}
