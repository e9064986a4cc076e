package realtime

import (
	"sync"
	"time"
)

// TranscriptEntry is one line of remote-model speech. The last entry may be
// interim, in which case its text is replaced in place as deltas arrive;
// finalized entries are immutable.
type TranscriptEntry struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
	Interim    bool      `json:"interim"`
}

// LocalTranscriptEntry is one utterance recognized by the fallback
// transcription path. Append-only, never mutated.
type LocalTranscriptEntry struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

// ModelResponse is one completed (or announced) model response. Append-only.
type ModelResponse struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
	Complete   bool      `json:"complete"`
}

// Store holds the session's transcript and response state. It maintains the
// invariant that at most one interim transcript entry exists and that it is
// always the last element.
type Store struct {
	mu        sync.RWMutex
	entries   []TranscriptEntry
	local     []LocalTranscriptEntry
	responses []ModelResponse
	now       func() time.Time
}

// NewStore creates an empty transcript store
func NewStore() *Store {
	return &Store{now: time.Now}
}

// UpsertInterim replaces the current interim entry's text, appending a new
// interim entry if none exists.
func (s *Store) UpsertInterim(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 && s.entries[n-1].Interim {
		s.entries[n-1].Text = text
		s.entries[n-1].CapturedAt = s.now()
		return
	}

	s.entries = append(s.entries, TranscriptEntry{
		Text:       text,
		CapturedAt: s.now(),
		Interim:    true,
	})
}

// FinalizeInterim marks the current interim entry final. No-op when no
// interim entry exists.
func (s *Store) FinalizeInterim() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 && s.entries[n-1].Interim {
		s.entries[n-1].Interim = false
	}
}

// HasInterim reports whether an interim entry is currently open
func (s *Store) HasInterim() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	return n > 0 && s.entries[n-1].Interim
}

// AppendLocal records a fallback-path utterance
func (s *Store) AppendLocal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.local = append(s.local, LocalTranscriptEntry{
		Text:       text,
		CapturedAt: s.now(),
	})
}

// AppendResponse records a model response
func (s *Store) AppendResponse(text string, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses = append(s.responses, ModelResponse{
		Text:       text,
		CapturedAt: s.now(),
		Complete:   complete,
	})
}

// Entries returns a snapshot of the remote transcript
func (s *Store) Entries() []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TranscriptEntry(nil), s.entries...)
}

// Local returns a snapshot of the fallback transcript
func (s *Store) Local() []LocalTranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LocalTranscriptEntry(nil), s.local...)
}

// Responses returns a snapshot of the model responses
func (s *Store) Responses() []ModelResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ModelResponse(nil), s.responses...)
}

// LocalAfter returns fallback entries captured strictly after t
func (s *Store) LocalAfter(t time.Time) []LocalTranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LocalTranscriptEntry
	for _, entry := range s.local {
		if entry.CapturedAt.After(t) {
			out = append(out, entry)
		}
	}
	return out
}
