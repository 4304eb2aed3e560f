package badgerstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"recall254/signing-core/internal/store"
	"recall254/signing-core/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func sampleRecord(id, petitionID, voterID string) models.SignatureRecord {
	return models.SignatureRecord{
		ID:           id,
		PetitionID:   petitionID,
		VoterID:      voterID,
		VoterName:    "Jane Wanjiku",
		Constituency: "Langata",
		Ward:         "Kibra",
		Stage:        models.StageSigned,
		CreatedAt:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertGetFind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := sampleRecord("sig-1", "p-1", "v-1")

	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "sig-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.VoterID != rec.VoterID || got.Stage != models.StageSigned {
		t.Fatalf("unexpected record: %+v", got)
	}

	byVoter, err := s.FindByVoter(ctx, "p-1", "v-1")
	if err != nil {
		t.Fatalf("FindByVoter: %v", err)
	}
	if byVoter.ID != "sig-1" {
		t.Fatalf("want sig-1, got %q", byVoter.ID)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.FindByVoter(ctx, "p-1", "v-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestInsertDuplicateVoter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Insert(ctx, sampleRecord("sig-1", "p-1", "v-1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, sampleRecord("sig-2", "p-1", "v-1"))
	if !errors.Is(err, store.ErrDuplicateSignature) {
		t.Fatalf("want ErrDuplicateSignature, got %v", err)
	}
	if err := s.Insert(ctx, sampleRecord("sig-3", "p-2", "v-1")); err != nil {
		t.Fatalf("other petition: %v", err)
	}
}

func TestUpdateReindexesReceipt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := sampleRecord("sig-1", "p-1", "v-1")
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec.Receipt = &models.ReceiptRecord{ReceiptCode: "REC254-AAAAAAAA-000000000000-p-1", SignatureID: "sig-1"}
	rec.Stage = models.StageReceipted
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	found, err := s.FindByReceiptCode(ctx, rec.Receipt.ReceiptCode)
	if err != nil {
		t.Fatalf("FindByReceiptCode: %v", err)
	}
	if found.Stage != models.StageReceipted {
		t.Fatalf("want stage receipted, got %q", found.Stage)
	}

	oldCode := rec.Receipt.ReceiptCode
	rec.Receipt = &models.ReceiptRecord{ReceiptCode: "REC254-BBBBBBBB-000000000000-p-1", SignatureID: "sig-1"}
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if _, err := s.FindByReceiptCode(ctx, oldCode); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old code must stop resolving, got %v", err)
	}
	if _, err := s.FindByReceiptCode(ctx, rec.Receipt.ReceiptCode); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func TestUpdateUnknownRecord(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(context.Background(), sampleRecord("sig-1", "p-1", "v-1"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entries := []models.AuditEntry{
		{ActionType: "signature_created", PetitionID: "p-1", SignatureID: "sig-1"},
		{ActionType: "receipt_renewed", PetitionID: "p-1", SignatureID: "sig-1"},
		{ActionType: "signature_created", PetitionID: "p-2", SignatureID: "sig-2"},
	}
	for _, entry := range entries {
		if err := s.Append(ctx, entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 entries, got %d", len(all))
	}
	// Keys are sequence-ordered, so iteration preserves append order.
	if all[0].ActionType != "signature_created" || all[1].ActionType != "receipt_renewed" {
		t.Fatal("append order lost")
	}

	filtered, err := s.List(ctx, "p-2")
	if err != nil {
		t.Fatalf("filtered List: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SignatureID != "sig-2" {
		t.Fatalf("unexpected filtered entries: %+v", filtered)
	}
}

func TestReopenPersistsRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Insert(ctx, sampleRecord("sig-1", "p-1", "v-1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "sig-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.PetitionID != "p-1" {
		t.Fatalf("unexpected record after reopen: %+v", got)
	}
}
