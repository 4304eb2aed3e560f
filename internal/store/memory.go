package store

import (
	"context"
	"sync"

	"recall254/signing-core/pkg/models"
)

// Memory is the in-process reference implementation of Signatures and
// AuditLog. The mutex serializes insert-if-absent, giving the same
// uniqueness guarantee the remote store's constraint provides.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]models.SignatureRecord
	byVoter  map[string]string
	byCode   map[string]string
	auditLog []models.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]models.SignatureRecord),
		byVoter: make(map[string]string),
		byCode:  make(map[string]string),
	}
}

func voterKey(petitionID, voterID string) string {
	return petitionID + "\x00" + voterID
}

func (m *Memory) Insert(ctx context.Context, rec models.SignatureRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byVoter[voterKey(rec.PetitionID, rec.VoterID)]; exists {
		return ErrDuplicateSignature
	}
	if _, exists := m.records[rec.ID]; exists {
		return ErrDuplicateSignature
	}
	m.records[rec.ID] = cloneRecord(rec)
	m.byVoter[voterKey(rec.PetitionID, rec.VoterID)] = rec.ID
	if rec.Receipt != nil {
		m.byCode[rec.Receipt.ReceiptCode] = rec.ID
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (models.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SignatureRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return models.SignatureRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) FindByVoter(ctx context.Context, petitionID, voterID string) (models.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SignatureRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byVoter[voterKey(petitionID, voterID)]
	if !ok {
		return models.SignatureRecord{}, ErrNotFound
	}
	return cloneRecord(m.records[id]), nil
}

func (m *Memory) FindByReceiptCode(ctx context.Context, code string) (models.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SignatureRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCode[code]
	if !ok {
		return models.SignatureRecord{}, ErrNotFound
	}
	rec, ok := m.records[id]
	if !ok || rec.Receipt == nil || rec.Receipt.ReceiptCode != code {
		return models.SignatureRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Update(ctx context.Context, rec models.SignatureRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	// A renewal replaces the receipt code; the old code stops resolving.
	if existing.Receipt != nil {
		delete(m.byCode, existing.Receipt.ReceiptCode)
	}
	if rec.Receipt != nil {
		m.byCode[rec.Receipt.ReceiptCode] = rec.ID
	}
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *Memory) Append(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLog = append(m.auditLog, cloneEntry(entry))
	return nil
}

func (m *Memory) List(ctx context.Context, petitionID string) ([]models.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditEntry, 0, len(m.auditLog))
	for _, entry := range m.auditLog {
		if petitionID == "" || entry.PetitionID == petitionID {
			out = append(out, cloneEntry(entry))
		}
	}
	return out, nil
}

func cloneRecord(rec models.SignatureRecord) models.SignatureRecord {
	out := rec
	if rec.Receipt != nil {
		receipt := *rec.Receipt
		out.Receipt = &receipt
	}
	return out
}

func cloneEntry(entry models.AuditEntry) models.AuditEntry {
	out := entry
	if entry.Details != nil {
		out.Details = make(map[string]string, len(entry.Details))
		for k, v := range entry.Details {
			out.Details[k] = v
		}
	}
	return out
}
