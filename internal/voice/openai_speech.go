package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

// OpenAISpeechEngine implements SpeechEngine against OpenAI's
// audio/transcriptions and audio/speech endpoints, using the same
// apiKey/baseURL/*http.Client shape as ai/providers/openai.Client — no pack
// library wraps speech, so the transport is stdlib net/http the same way
// the teacher's own ai/providers/* clients are, not a stdlib fallback.
type OpenAISpeechEngine struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	ttsModel        string
	httpClient      *http.Client
}

// NewOpenAISpeechEngine builds an OpenAISpeechEngine.
func NewOpenAISpeechEngine(apiKey, baseURL string) *OpenAISpeechEngine {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAISpeechEngine{
		apiKey:          apiKey,
		baseURL:         baseURL,
		transcribeModel: "whisper-1",
		ttsModel:        "tts-1",
		httpClient:      &http.Client{Timeout: 60 * time.Second},
	}
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Language string  `json:"language"`
}

// Transcribe sends raw audio bytes to the transcriptions endpoint.
func (e *OpenAISpeechEngine) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindInvalidInput, err)
	}
	if _, err := part.Write(audio); err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindInvalidInput, err)
	}
	if err := writer.WriteField("model", e.transcribeModel); err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindInvalidInput, err)
	}
	if err := writer.Close(); err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindInvalidInput, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindDownstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindDownstreamUnavailable, fmt.Errorf("transcription request failed: status %d", resp.StatusCode))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindDownstreamUnavailable, err)
	}

	return Transcription{Text: parsed.Text, DurationSeconds: parsed.Duration, Language: parsed.Language}, nil
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Synthesize calls the speech endpoint and returns raw audio bytes.
func (e *OpenAISpeechEngine) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		voiceID = "alloy"
	}

	body, err := json.Marshal(speechRequest{Model: e.ttsModel, Input: text, Voice: voiceID})
	if err != nil {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindDownstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindDownstreamUnavailable, fmt.Errorf("speech request failed: status %d", resp.StatusCode))
	}

	return audio, nil
}
