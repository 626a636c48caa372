package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
)

type ConfigHandler struct {
	logger arbor.ILogger
	config *common.Config
}

func NewConfigHandler(logger arbor.ILogger, config *common.Config) *ConfigHandler {
	return &ConfigHandler{
		logger: logger,
		config: config,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Version string         `json:"version"`
	Build   string         `json:"build"`
	Port    int            `json:"port"`
	Host    string         `json:"host"`
	Config  *common.Config `json:"config,omitempty"` // Withheld in production
}

// GetConfig handles GET /api/config with the resolved configuration
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	info := common.GetVersionInfo()
	response := ConfigResponse{
		Version: info.Version,
		Build:   info.Build,
		Port:    h.config.Server.Port,
		Host:    h.config.Server.Host,
	}
	if !h.config.IsProduction() {
		clone := common.DeepCloneConfig(h.config)
		clone.Browser.ExecPath = ""
		response.Config = clone
	}

	WriteJSON(w, http.StatusOK, response)
}
