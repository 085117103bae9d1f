// Package voice implements VOX: transcription, synthesis, and transcript
// persistence, per spec §4.8.
package voice

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
)

// Limits from spec §4.8.
const (
	MaxAudioBytes = 5 * 1024 * 1024
	MaxTTSChars   = 5000
)

// Transcription is the result of VOX.transcribe.
type Transcription struct {
	Text            string
	DurationSeconds float64
	Language        string
}

// SpeechEngine is the narrow seam to whatever speech-to-text/
// text-to-speech provider backs VOX. gomind's own AI client abstraction
// is text-oriented (GenerateResponse over a prompt string), so speech is
// its own small interface rather than forced through ai.AIClient.
type SpeechEngine interface {
	Transcribe(ctx context.Context, audio []byte) (Transcription, error)
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Store persists VoiceTranscript rows in a local append-only SQLite
// database — VOX's own artifact, not a domain record handed to an
// external collaborator (see DESIGN.md).
type Store struct {
	db     *sql.DB
	logger core.Logger
}

// NewStore opens (creating if absent) the transcript database at path.
func NewStore(path string, logger core.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, travelerrors.New("VOX.NewStore", travelerrors.KindInternalTimeout, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS voice_transcripts (
		session_id TEXT NOT NULL,
		user_audio_transcript TEXT NOT NULL,
		ai_response_text TEXT NOT NULL,
		duration_seconds REAL NOT NULL,
		created_at DATETIME NOT NULL
	)`); err != nil {
		db.Close()
		return nil, travelerrors.New("VOX.NewStore", travelerrors.KindInternalTimeout, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Service implements VOX's three operations.
type Service struct {
	engine SpeechEngine
	store  *Store
	now    func() time.Time
}

// NewService builds a VOX Service.
func NewService(engine SpeechEngine, store *Store) *Service {
	return &Service{engine: engine, store: store, now: time.Now}
}

// Transcribe implements VOX.transcribe(audio_blob) -> {text, duration_seconds, language}.
func (s *Service) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	if len(audio) > MaxAudioBytes {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindInvalidInput, travelerrors.ErrInputTooLarge)
	}
	result, err := s.engine.Transcribe(ctx, audio)
	if err != nil {
		return Transcription{}, travelerrors.New("VOX.transcribe", travelerrors.KindDownstreamUnavailable, err)
	}
	return result, nil
}

// Synthesize implements VOX.synthesize(text, voice_id?) -> audio_blob.
func (s *Service) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if len(text) > MaxTTSChars {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindInvalidInput, travelerrors.ErrInputTooLarge)
	}
	audio, err := s.engine.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, travelerrors.New("VOX.synthesize", travelerrors.KindDownstreamUnavailable, err)
	}
	return audio, nil
}

// SaveTranscript implements VOX.saveTranscript, appending a VoiceTranscript row.
func (s *Service) SaveTranscript(ctx context.Context, sessionID, userText, assistantText string, duration float64) (*domain.VoiceTranscript, error) {
	transcript := &domain.VoiceTranscript{
		SessionID:           sessionID,
		UserAudioTranscript: userText,
		AIResponseText:      assistantText,
		DurationSeconds:     duration,
		CreatedAt:           s.now(),
	}

	_, err := s.store.db.ExecContext(ctx,
		`INSERT INTO voice_transcripts (session_id, user_audio_transcript, ai_response_text, duration_seconds, created_at) VALUES (?, ?, ?, ?, ?)`,
		transcript.SessionID, transcript.UserAudioTranscript, transcript.AIResponseText, transcript.DurationSeconds, transcript.CreatedAt,
	)
	if err != nil {
		return nil, travelerrors.New("VOX.saveTranscript", travelerrors.KindInternalTimeout, err)
	}

	return transcript, nil
}
