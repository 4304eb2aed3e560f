package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"

	"recall254/signing-core/internal/store"
	"recall254/signing-core/pkg/models"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	sig/<id>                       -> SignatureRecord JSON
//	voter/<petitionID>\x00<voterID> -> record id
//	rcpt/<receiptCode>             -> record id
//	audit/<8-byte big-endian seq>  -> AuditEntry JSON
var (
	prefixSignature = []byte("sig/")
	prefixVoter     = []byte("voter/")
	prefixReceipt   = []byte("rcpt/")
	prefixAudit     = []byte("audit/")
)

// Store is the BadgerDB-backed implementation of store.Signatures and
// store.AuditLog. Every mutation runs in a single Update transaction, so
// insert-if-absent on the voter key is genuinely atomic.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence([]byte("audit-seq"), 64)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, seq: seq}, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func signatureKey(id string) []byte {
	return append(append([]byte(nil), prefixSignature...), id...)
}

func voterKey(petitionID, voterID string) []byte {
	key := append(append([]byte(nil), prefixVoter...), petitionID...)
	key = append(key, 0)
	return append(key, voterID...)
}

func receiptKey(code string) []byte {
	return append(append([]byte(nil), prefixReceipt...), code...)
}

func (s *Store) Insert(ctx context.Context, rec models.SignatureRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		vk := voterKey(rec.PetitionID, rec.VoterID)
		if _, err := txn.Get(vk); err == nil {
			return store.ErrDuplicateSignature
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(signatureKey(rec.ID)); err == nil {
			return store.ErrDuplicateSignature
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(signatureKey(rec.ID), payload); err != nil {
			return err
		}
		if err := txn.Set(vk, []byte(rec.ID)); err != nil {
			return err
		}
		if rec.Receipt != nil {
			return txn.Set(receiptKey(rec.Receipt.ReceiptCode), []byte(rec.ID))
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (models.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SignatureRecord{}, err
	}
	var rec models.SignatureRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return readRecord(txn, signatureKey(id), &rec)
	})
	return rec, err
}

func (s *Store) FindByVoter(ctx context.Context, petitionID, voterID string) (models.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SignatureRecord{}, err
	}
	var rec models.SignatureRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := readIndex(txn, voterKey(petitionID, voterID))
		if err != nil {
			return err
		}
		return readRecord(txn, signatureKey(id), &rec)
	})
	return rec, err
}

func (s *Store) FindByReceiptCode(ctx context.Context, code string) (models.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SignatureRecord{}, err
	}
	var rec models.SignatureRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := readIndex(txn, receiptKey(code))
		if err != nil {
			return err
		}
		if err := readRecord(txn, signatureKey(id), &rec); err != nil {
			return err
		}
		if rec.Receipt == nil || rec.Receipt.ReceiptCode != code {
			return store.ErrNotFound
		}
		return nil
	})
	return rec, err
}

func (s *Store) Update(ctx context.Context, rec models.SignatureRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var existing models.SignatureRecord
		if err := readRecord(txn, signatureKey(rec.ID), &existing); err != nil {
			return err
		}
		if existing.Receipt != nil {
			if err := txn.Delete(receiptKey(existing.Receipt.ReceiptCode)); err != nil {
				return err
			}
		}
		if err := txn.Set(signatureKey(rec.ID), payload); err != nil {
			return err
		}
		if rec.Receipt != nil {
			return txn.Set(receiptKey(rec.Receipt.ReceiptCode), []byte(rec.ID))
		}
		return nil
	})
}

func (s *Store) Append(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	seq, err := s.seq.Next()
	if err != nil {
		return err
	}
	key := make([]byte, len(prefixAudit)+8)
	copy(key, prefixAudit)
	binary.BigEndian.PutUint64(key[len(prefixAudit):], seq)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
}

func (s *Store) List(ctx context.Context, petitionID string) ([]models.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAudit
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry models.AuditEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			if petitionID == "" || entry.PetitionID == petitionID {
				out = append(out, entry)
			}
		}
		return nil
	})
	return out, err
}

func readIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	var id string
	err = item.Value(func(val []byte) error {
		id = string(val)
		return nil
	})
	return id, err
}

func readRecord(txn *badger.Txn, key []byte, rec *models.SignatureRecord) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}
