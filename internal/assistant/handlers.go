package assistant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/purchase"
	"github.com/globetrotter-labs/travel-assistant/internal/rag"
)

// handleOpenSession starts a fresh session for a new conversation.
func (a *Assistant) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	sess, err := a.orch.OpenSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"state":      sess.State,
	})
}

type sendRequest struct {
	SessionID     string `json:"session_id"`
	Message       string `json:"message"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

// handleSend runs one ORCH.handleTurn for a user message.
func (a *Assistant) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := a.orch.HandleTurn(r.Context(), req.SessionID, req.Message, req.AttachmentRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process turn", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assistant_text": result.AssistantText,
		"state":          result.State,
		"quote":          result.Quote,
	})
}

// handleUpload attaches an already-stored blob (identified by
// attachment_ref) to the current turn — retrieving the bytes themselves
// is ORCH.BlobFetcher's job, not this handler's (spec §1 Out of scope:
// file blob storage).
func (a *Assistant) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AttachmentRef == "" {
		writeError(w, http.StatusBadRequest, "attachment_ref is required", nil)
		return
	}

	result, err := a.orch.HandleTurn(r.Context(), req.SessionID, "", req.AttachmentRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process upload", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assistant_text": result.AssistantText,
		"state":          result.State,
	})
}

type patchDocumentRequest struct {
	SessionID string `json:"session_id"`
	// Action is one of "confirm", "reject", "edit". For "edit", Correction
	// carries the free-text correction, which is run back through SLOT
	// the same way a normal DOC_REVIEW reply is (spec §4.1).
	Action     string `json:"action"`
	Correction string `json:"correction,omitempty"`
}

// handlePatchDocument implements DOC_REVIEW's confirm/reject/edit exits
// as an explicit REST action, rather than requiring the client to phrase
// it as chat text.
func (a *Assistant) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req patchDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var turnInput string
	switch strings.ToLower(req.Action) {
	case "confirm":
		turnInput = "confirm"
	case "reject":
		turnInput = "reject"
	case "edit":
		turnInput = req.Correction
	default:
		writeError(w, http.StatusBadRequest, `action must be "confirm", "reject", or "edit"`, nil)
		return
	}

	result, err := a.orch.HandleTurn(r.Context(), req.SessionID, turnInput, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to patch document", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assistant_text": result.AssistantText,
		"state":          result.State,
	})
}

// handleGetSession returns a session's current snapshot.
func (a *Assistant) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported", nil)
		return
	}

	sessionID := extractPathParam(r.URL.Path, "/chat/session/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required", nil)
		return
	}

	sess, err := a.orch.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found or expired", err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

type checkoutStartRequest struct {
	SessionID string `json:"session_id"`
	Tier      string `json:"tier"`
}

// handleCheckoutStart lets a client (e.g. a "buy now" button) initiate
// checkout directly, instead of phrasing the tier selection as chat text.
func (a *Assistant) handleCheckoutStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req checkoutStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	checkout, err := a.checkout.StartCheckout(r.Context(), req.SessionID, domain.Tier(strings.ToLower(req.Tier)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to start checkout", err)
		return
	}

	writeJSON(w, http.StatusOK, checkout)
}

type paymentWebhookRequest struct {
	PaymentRef string `json:"payment_ref"`
	SessionID  string `json:"session_id"`
	Outcome    string `json:"outcome"`
}

// handlePaymentWebhook receives the payment gateway's asynchronous
// confirmation/cancellation/failure callback, verifying an HMAC-SHA256
// signature over the raw body against the configured signing secret
// before trusting the payload.
func (a *Assistant) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	body := make([]byte, r.ContentLength)
	if _, err := r.Body.Read(body); err != nil && r.ContentLength > 0 {
		writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if a.webhookSigningSecret != "" {
		if !verifySignature(a.webhookSigningSecret, body, r.Header.Get("X-Signature")) {
			writeError(w, http.StatusUnauthorized, "invalid webhook signature", nil)
			return
		}
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	event := purchase.PaymentEvent{
		PaymentRef: req.PaymentRef,
		SessionID:  req.SessionID,
		Outcome:    purchase.PaymentOutcome(req.Outcome),
	}
	if err := a.checkout.OnPaymentEvent(r.Context(), event); err != nil {
		writeError(w, http.StatusBadRequest, "failed to process payment event", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

type ragIngestRequest struct {
	DocID       string `json:"doc_id"`
	ProductCode string `json:"product_code"`
	Heading     string `json:"heading"`
	Text        string `json:"text"`
}

func (a *Assistant) handleRAGIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req ragIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	meta := rag.DocumentMeta{DocID: req.DocID, ProductCode: req.ProductCode, Heading: req.Heading}
	if err := a.policies.Ingest(r.Context(), meta, req.Text); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest document", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"ingested": true})
}

type ragSearchRequest struct {
	Query       string `json:"query"`
	ProductCode string `json:"product_code"`
	K           int    `json:"k"`
}

func (a *Assistant) handleRAGSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req ragSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.K <= 0 {
		req.K = 3
	}

	results, err := a.policies.Search(r.Context(), req.Query, req.ProductCode, req.K)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type voiceTurnRequest struct {
	SessionID   string `json:"session_id"`
	AudioBase64 string `json:"audio_base64"`
	VoiceID     string `json:"voice_id,omitempty"`
}

// handleVoiceTurn implements the speech round trip: transcribe, run a
// normal chat turn, synthesize the reply, and log the transcript (spec
// §4.8).
func (a *Assistant) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported", nil)
		return
	}

	var req voiceTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", err)
		return
	}

	transcription, err := a.voice.Transcribe(r.Context(), audio)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transcription failed", err)
		return
	}

	result, err := a.orch.HandleTurn(r.Context(), req.SessionID, transcription.Text, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process turn", err)
		return
	}

	audioReply, err := a.voice.Synthesize(r.Context(), result.AssistantText, req.VoiceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "speech synthesis failed", err)
		return
	}

	if _, err := a.voice.SaveTranscript(r.Context(), req.SessionID, transcription.Text, result.AssistantText, transcription.DurationSeconds); err != nil {
		a.Logger.Warn("failed to save voice transcript", map[string]interface{}{"error": err.Error()})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_text":         transcription.Text,
		"assistant_text":    result.AssistantText,
		"assistant_audio_b64": base64.StdEncoding.EncodeToString(audioReply),
		"state":             result.State,
	})
}

// verifySignature checks an HMAC-SHA256 hex-encoded signature over body,
// using a constant-time comparison to avoid leaking timing information.
func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Signature")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":   message,
		"success": false,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func extractPathParam(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	param := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(param, "/"); idx != -1 {
		param = param[:idx]
	}
	return param
}

