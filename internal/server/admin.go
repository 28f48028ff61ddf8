package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/firewall"
)

type layersResponse struct {
	Version uint64                `json:"version"`
	Layers  []firewall.LayerState `json:"layers"`
}

func (s *Server) layers() layersResponse {
	return layersResponse{Version: s.pipeline.Version(), Layers: s.pipeline.Layers()}
}

// listLayers returns the compiled layer order with enabled and critical flags.
func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.layers())
}

// updateLayers replaces the layer list. The pipeline recompiles before the
// response is written.
func (s *Server) updateLayers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Layers []config.LayerSetting `json:"layers"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return
	}
	snap := s.firewall.UpdateLayers(req.Layers)
	s.auditAdmin(r, "firewall_layers_updated", map[string]interface{}{"version": snap.Version, "layers": len(req.Layers)})
	respond(w, http.StatusOK, s.layers())
}

// reloadFirewall re-reads the firewall file. A file that fails to parse
// keeps the current snapshot.
func (s *Server) reloadFirewall(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.LoadFirewall(s.cfg.FirewallFile)
	if err != nil {
		s.log.Error("firewall reload failed", zap.String("file", s.cfg.FirewallFile), zap.Error(err))
		fail(w, http.StatusUnprocessableEntity, "RELOAD_FAILED", "Firewall configuration could not be loaded")
		return
	}
	snap := s.firewall.Update(cfg)
	s.auditAdmin(r, "firewall_reloaded", map[string]interface{}{"version": snap.Version, "file": s.cfg.FirewallFile})
	respond(w, http.StatusOK, s.layers())
}

func (s *Server) cryptoStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.crypto.Status(s.now()))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.metrics.GetStats())
}

func (s *Server) auditAdmin(r *http.Request, action string, meta map[string]interface{}) {
	id := auth.FromContext(r.Context())
	s.recorder.Activity(r.Context(), audit.Entry{
		TenantID:   id.TenantID,
		ActorID:    id.UserID,
		Action:     action,
		TargetType: "config",
		TargetID:   "firewall",
		Metadata:   meta,
	})
}
