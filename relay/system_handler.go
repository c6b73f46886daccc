package relay

import (
	"encoding/json"

	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/vault"
)

// SystemHandler implements system:status (a point-in-time snapshot) and
// system:subscribe (subscription management).
type SystemHandler struct {
	vault    *facade.Facade
	registry *Registry
}

// NewSystemHandler constructs a SystemHandler.
func NewSystemHandler(v *facade.Facade, r *Registry) *SystemHandler {
	return &SystemHandler{vault: v, registry: r}
}

// Status returns a status snapshot: pending/running job counts derived
// from the vault directories and the registry's live client count.
func (h *SystemHandler) Status(env Envelope) any {
	pending, _ := h.vault.Store.List(vault.JobsPending)
	running, _ := h.vault.Store.List(vault.JobsProcessing)
	return systemStatusResponseFrame{
		Type:             "system:status-response",
		RequestID:        env.RequestID,
		PendingJobs:      len(pending),
		RunningJobs:      len(running),
		AgentOnline:      false,
		ConnectedClients: h.registry.Size(),
	}
}

// Subscribe unions the requested event patterns into the session's
// subscription set.
func (h *SystemHandler) Subscribe(sessionToken string, env Envelope) any {
	var f systemSubscribeFrame
	if err := json.Unmarshal(env.Raw, &f); err != nil {
		return newError(ErrInvalidJSON, err.Error(), env.RequestID)
	}
	h.registry.Subscribe(sessionToken, f.Events)
	return cmdResultFrame{Type: "cmd:result", RequestID: f.RequestID, Success: true, Output: "subscribed"}
}

// restStatus is the REST /api/status snapshot shape.
type restStatus struct {
	PendingJobs      int    `json:"pendingJobs"`
	RunningJobs      int    `json:"runningJobs"`
	AgentOnline      bool   `json:"agentOnline"`
	ConnectedClients int    `json:"connectedClients"`
	VaultPath        string `json:"vaultPath"`
	UptimeSec        int64  `json:"uptimeSec"`
}
