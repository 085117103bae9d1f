// Package assistant wires ORCH, PUR, RAG and VOX behind the HTTP
// capabilities spec §6 exposes, grounded on
// examples/travel-chat-agent/chat_agent.go's registerCapabilities and
// core.BaseAgent/Capability.
package assistant

import (
	"github.com/globetrotter-labs/travel-assistant/internal/chat"
	"github.com/globetrotter-labs/travel-assistant/internal/orchestrator"
	"github.com/globetrotter-labs/travel-assistant/internal/purchase"
	"github.com/globetrotter-labs/travel-assistant/internal/rag"
	"github.com/globetrotter-labs/travel-assistant/internal/voice"
	"github.com/itsneelabh/gomind/core"
)

// Assistant is the process's single core.BaseAgent, exposing every
// conversational/purchase/retrieval/voice capability over HTTP.
type Assistant struct {
	*core.BaseAgent

	orch     *orchestrator.Coordinator
	checkout *purchase.Coordinator
	policies *rag.Service // nil if RAG wasn't configured
	voice    *voice.Service // nil if VOX wasn't configured

	webhookSigningSecret string
}

// New builds an Assistant and registers its HTTP capabilities. policies and
// speech are optional (spec §1: policy wording and speech are independently
// deployable pieces of the system).
func New(name string, orch *orchestrator.Coordinator, checkout *purchase.Coordinator, policies *rag.Service, speech *voice.Service, webhookSigningSecret string) *Assistant {
	a := &Assistant{
		BaseAgent:            core.NewBaseAgent(name),
		orch:                 orch,
		checkout:             checkout,
		policies:             policies,
		voice:                speech,
		webhookSigningSecret: webhookSigningSecret,
	}
	a.registerCapabilities()
	return a
}

func (a *Assistant) registerCapabilities() {
	a.RegisterCapability(core.Capability{
		Name:        "chat_open",
		Description: "Open a new conversational session",
		Endpoint:    "/chat/open",
		Handler:     a.handleOpenSession,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "chat_send",
		Description: "Send a user turn to the travel assistant",
		Endpoint:    "/chat/send",
		Handler:     a.handleSend,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "chat_get_session",
		Description: "Get a session's current state snapshot",
		Endpoint:    "/chat/session/",
		Handler:     a.handleGetSession,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "chat_upload",
		Description: "Attach an uploaded document to a session's current turn",
		Endpoint:    "/chat/upload",
		Handler:     a.handleUpload,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "chat_patch_document",
		Description: "Confirm, reject, or correct a document's pending low-confidence fields",
		Endpoint:    "/chat/document/patch",
		Handler:     a.handlePatchDocument,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "checkout_start",
		Description: "Start checkout for a selected tier",
		Endpoint:    "/checkout/start",
		Handler:     a.handleCheckoutStart,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "payment_webhook",
		Description: "Receive an asynchronous payment confirmation/cancellation/failure event",
		Endpoint:    "/payment/webhook",
		Handler:     a.handlePaymentWebhook,
		Internal:    true,
	})
	a.RegisterCapability(core.Capability{
		Name:        "chat_ui",
		Description: "Serve a minimal browser chat UI against chat_open/chat_send",
		Endpoint:    "/ui",
		Handler:     chat.ServeChatUI(a.Name),
		Internal:    true,
	})

	if a.policies != nil {
		a.RegisterCapability(core.Capability{
			Name:        "rag_ingest",
			Description: "Ingest a policy wording document into the retrieval index",
			Endpoint:    "/rag/ingest",
			Handler:     a.handleRAGIngest,
			Internal:    true,
		})
		a.RegisterCapability(core.Capability{
			Name:        "rag_search",
			Description: "Search the policy wording index directly",
			Endpoint:    "/rag/search",
			Handler:     a.handleRAGSearch,
			Internal:    true,
		})
	}

	if a.voice != nil {
		a.RegisterCapability(core.Capability{
			Name:        "voice_turn",
			Description: "Transcribe spoken input, run it through a chat turn, and synthesize the reply",
			Endpoint:    "/voice/turn",
			Handler:     a.handleVoiceTurn,
			Internal:    true,
		})
	}
}
