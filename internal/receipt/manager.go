package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tonyw/receipt-ocr/internal/extraction"
)

// ClassificationField names one of the three user-chosen classification
// fields on an entry
type ClassificationField string

const (
	FieldCategory    ClassificationField = "category"
	FieldFromAccount ClassificationField = "from_account"
	FieldPaidBy      ClassificationField = "paid_by"
)

var (
	// ErrEntryNotFound means the named entry is not in the collection
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryConfirmed means the entry's classification is frozen
	ErrEntryConfirmed = errors.New("entry is confirmed; classification is frozen")
	// ErrMissingClassification means Confirm was called before all three
	// classification fields were set. Callers must gate the confirm action
	// on the fields being non-empty; reaching this error is a caller bug,
	// not a recoverable condition.
	ErrMissingClassification = errors.New("all classification fields must be set before confirming")
	// ErrNotRetryable means Retry was called on an entry that is not in
	// error status; the entry is left unchanged
	ErrNotRetryable = errors.New("entry is not in error status")
)

// IDGenerator generates unique IDs for entries
type IDGenerator interface {
	Generate() string
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// entryState is an Entry plus the bookkeeping the manager keeps private:
// where the original bytes live and what MIME type they carried.
type entryState struct {
	Entry
	previewPath string
	contentType string
}

// Manager owns the ordered collection of receipt entries, the active-entry
// selection, and the three classification vocabularies. Every operation is
// atomic to observers; extractions run concurrently and independently per
// entry and resolve by id, so completion order is free to differ from upload
// order.
type Manager struct {
	mu sync.Mutex

	extractor extraction.Extractor
	previews  PreviewStore
	vocabDB   VocabularyDB
	idGen     IDGenerator

	entries  []*entryState
	activeID string

	categories *Vocabulary
	accounts   *Vocabulary
	paidBy     *Vocabulary

	watchers    map[uint64]chan struct{}
	nextWatcher uint64
}

// NewManager creates a Manager with the default ID generator. vocabDB may be
// nil; vocabularies then start from the built-in defaults and live only for
// the process.
func NewManager(extractor extraction.Extractor, previews PreviewStore, vocabDB VocabularyDB) *Manager {
	return NewManagerWithDeps(extractor, previews, vocabDB, &uuidGenerator{})
}

// NewManagerWithDeps creates a Manager with custom dependencies for testing
func NewManagerWithDeps(extractor extraction.Extractor, previews PreviewStore, vocabDB VocabularyDB, idGen IDGenerator) *Manager {
	return &Manager{
		extractor:  extractor,
		previews:   previews,
		vocabDB:    vocabDB,
		idGen:      idGen,
		categories: loadVocabulary(vocabDB, VocabCategories, defaultCategories, true, true),
		accounts:   loadVocabulary(vocabDB, VocabAccounts, defaultAccounts, true, true),
		paidBy:     loadVocabulary(vocabDB, VocabPaidBy, defaultPaidBy, false, false),
		watchers:   make(map[uint64]chan struct{}),
	}
}

// loadVocabulary prefers persisted values over the seed when a DB is present
func loadVocabulary(db VocabularyDB, name VocabularyName, seed []string, caseInsensitive, sorted bool) *Vocabulary {
	if db != nil {
		values, err := db.GetVocabulary(string(name))
		if err != nil {
			slog.Warn("Failed to load vocabulary, using defaults", "name", name, "error", err)
		} else if len(values) > 0 {
			seed = values
		}
	}
	return NewVocabulary(name, seed, caseInsensitive, sorted)
}

// sanitizeFilename cleans up a filename for use as a preview file name
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`).ReplaceAllString(base, "")
	base = regexp.MustCompile(`\s+`).ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// Enqueue creates one Processing entry per upload, in input order, and starts
// an extraction for each. The first new entry becomes active when nothing is.
// Enqueueing zero files is a no-op. The returned entries are copies.
func (m *Manager) Enqueue(files []Upload) []Entry {
	if len(files) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	created := make([]Entry, 0, len(files))
	for _, f := range files {
		id := m.idGen.Generate()

		state := &entryState{
			Entry: Entry{
				ID:     id,
				Status: StatusProcessing,
			},
			contentType: f.ContentType,
		}

		path, err := m.previews.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(f.Filename)), f.Data)
		if err != nil {
			slog.Error("Failed to save preview", "filename", f.Filename, "error", err)
			state.Status = StatusError
			state.Error = fmt.Sprintf("saving preview: %v", err)
		} else {
			state.previewPath = path
			state.PreviewURL = "/api/receipts/" + id + "/preview"
		}

		m.entries = append(m.entries, state)
		created = append(created, state.Entry)

		if state.Status == StatusProcessing {
			go m.runExtraction(id, f.Data, f.ContentType)
		}
	}

	if m.activeID == "" {
		m.activeID = created[0].ID
	}

	m.notifyLocked()
	return created
}

// runExtraction performs one extraction exchange outside the lock and applies
// the outcome. There is no cancellation: once started, the exchange runs to
// completion even if the entry is removed in the meantime.
func (m *Manager) runExtraction(id string, data []byte, contentType string) {
	receiptData, err := m.extractor.Extract(context.Background(), data, contentType)
	m.resolve(id, receiptData, err)
}

// resolve applies a terminal transition for one extraction attempt. It is a
// no-op when the entry no longer exists or is no longer waiting, which makes
// out-of-order and post-reset resolutions safe.
func (m *Manager) resolve(id string, data *extraction.ReceiptData, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.findLocked(id)
	if state == nil {
		slog.Debug("Dropping resolution for removed entry", "id", id)
		return
	}
	if state.Status != StatusProcessing {
		slog.Debug("Dropping stale resolution", "id", id, "status", state.Status)
		return
	}

	if err != nil {
		slog.Error("Extraction failed", "id", id, "error", err)
		state.Status = StatusError
		state.Error = err.Error()
	} else {
		state.Status = StatusCompleted
		state.Data = data
	}

	m.notifyLocked()
}

// SetActive selects the entry shown in detail view; the empty string selects
// none
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" && m.findLocked(id) == nil {
		return ErrEntryNotFound
	}
	m.activeID = id
	m.notifyLocked()
	return nil
}

// UpdateClassification sets one classification field on an entry. It is
// rejected while the entry is confirmed.
func (m *Manager) UpdateClassification(id string, field ClassificationField, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.findLocked(id)
	if state == nil {
		return ErrEntryNotFound
	}
	if state.IsConfirmed {
		return ErrEntryConfirmed
	}

	switch field {
	case FieldCategory:
		state.SelectedCategory = value
	case FieldFromAccount:
		state.SelectedFromAccount = value
	case FieldPaidBy:
		state.SelectedPaidBy = value
	default:
		return fmt.Errorf("unknown classification field: %q", field)
	}

	m.notifyLocked()
	return nil
}

// Confirm marks an entry's classification as final. All three classification
// fields must be non-empty; see ErrMissingClassification.
func (m *Manager) Confirm(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.findLocked(id)
	if state == nil {
		return ErrEntryNotFound
	}
	if state.SelectedCategory == "" || state.SelectedFromAccount == "" || state.SelectedPaidBy == "" {
		return ErrMissingClassification
	}

	state.IsConfirmed = true
	m.notifyLocked()
	return nil
}

// Unconfirm clears an entry's confirmation, re-enabling classification edits
func (m *Manager) Unconfirm(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.findLocked(id)
	if state == nil {
		return ErrEntryNotFound
	}

	state.IsConfirmed = false
	m.notifyLocked()
	return nil
}

// Retry resets an error entry to Processing and starts a new extraction with
// the stored image bytes. Retrying an entry that is not in error status fails
// with ErrNotRetryable and leaves the entry unchanged.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.findLocked(id)
	if state == nil {
		return ErrEntryNotFound
	}
	if state.Status != StatusError {
		return ErrNotRetryable
	}

	data, err := m.previews.Get(state.previewPath)
	if err != nil {
		return fmt.Errorf("reading stored image: %w", err)
	}

	state.Status = StatusProcessing
	state.Error = ""
	state.Data = nil
	go m.runExtraction(id, data, state.contentType)

	m.notifyLocked()
	return nil
}

// AddVocabulary inserts a value into one of the classification vocabularies,
// failing with *DuplicateValueError on collision. Successful additions are
// persisted when a vocabulary DB is configured.
func (m *Manager) AddVocabulary(name VocabularyName, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("vocabulary value must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	vocab, err := m.vocabularyLocked(name)
	if err != nil {
		return err
	}
	if err := vocab.Add(value); err != nil {
		return err
	}

	if m.vocabDB != nil {
		if err := m.vocabDB.SaveVocabulary(string(name), vocab.Values()); err != nil {
			slog.Warn("Failed to persist vocabulary", "name", name, "error", err)
		}
	}

	m.notifyLocked()
	return nil
}

func (m *Manager) vocabularyLocked(name VocabularyName) (*Vocabulary, error) {
	switch name {
	case VocabCategories:
		return m.categories, nil
	case VocabAccounts:
		return m.accounts, nil
	case VocabPaidBy:
		return m.paidBy, nil
	default:
		return nil, fmt.Errorf("unknown vocabulary: %q", name)
	}
}

// Reset releases every entry's preview, empties the collection, and clears
// the active selection. In-flight extractions keep running; their
// resolutions are dropped.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.entries {
		if state.previewPath == "" {
			continue
		}
		if err := m.previews.Delete(state.previewPath); err != nil {
			slog.Warn("Failed to release preview", "id", state.ID, "error", err)
		}
	}

	m.entries = nil
	m.activeID = ""
	m.notifyLocked()
}

// Snapshot returns a copy of the observable state. Entry data pointers are
// shared; ReceiptData is immutable once produced.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, state := range m.entries {
		entries = append(entries, state.Entry)
	}
	return Snapshot{Entries: entries, ActiveID: m.activeID}
}

// ConfirmedEntries returns copies of the confirmed entries in collection order
func (m *Manager) ConfirmedEntries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	confirmed := make([]Entry, 0, len(m.entries))
	for _, state := range m.entries {
		if state.IsConfirmed {
			confirmed = append(confirmed, state.Entry)
		}
	}
	return confirmed
}

// Vocabularies returns a copy of the three classification vocabularies
func (m *Manager) Vocabularies() Vocabularies {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Vocabularies{
		Categories: m.categories.Values(),
		Accounts:   m.accounts.Values(),
		PaidBy:     m.paidBy.Values(),
	}
}

// Vocabularies is a snapshot of the three classification value sets
type Vocabularies struct {
	Categories []string `json:"categories"`
	Accounts   []string `json:"accounts"`
	PaidBy     []string `json:"paid_by"`
}

// Preview returns the stored image bytes and MIME type for an entry
func (m *Manager) Preview(id string) ([]byte, string, error) {
	m.mu.Lock()
	state := m.findLocked(id)
	if state == nil || state.previewPath == "" {
		m.mu.Unlock()
		return nil, "", ErrEntryNotFound
	}
	path, contentType := state.previewPath, state.contentType
	m.mu.Unlock()

	data, err := m.previews.Get(path)
	if err != nil {
		return nil, "", fmt.Errorf("getting preview: %w", err)
	}
	return data, contentType, nil
}

// Watch returns a channel that receives a tick after every completed
// mutation, plus a cancel func that releases the watcher. Ticks are
// coalesced; a slow consumer sees at least one tick for any burst of changes.
func (m *Manager) Watch() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextWatcher
	m.nextWatcher++
	ch := make(chan struct{}, 1)
	m.watchers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

func (m *Manager) notifyLocked() {
	for _, ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) findLocked(id string) *entryState {
	for _, state := range m.entries {
		if state.ID == id {
			return state
		}
	}
	return nil
}
