package service

import (
	"encoding/binary"

	"custody-engine/internal/core/domain"

	"golang.org/x/crypto/sha3"
)

// ReceiptDigest chains record onto prev with Keccak-256. Account ids are length-prefixed so
// adjacent fields cannot be shifted into each other.
func ReceiptDigest(prev domain.Bytes32, record *domain.PaymentRecord) domain.Bytes32 {
	h := sha3.NewLegacyKeccak256()
	h.Write(prev[:])

	var buf [8]byte
	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeAccount := func(a domain.AccountID) {
		writeUint(uint64(len(a)))
		h.Write([]byte(a))
	}

	writeUint(record.ID)
	writeUint(record.SessionID)
	writeAccount(record.Provider)
	writeAccount(record.Patient)
	writeAccount(record.Funder)
	writeAccount(record.Caller)
	writeUint(record.Amount)
	writeUint(record.FeeCharged)
	writeUint(record.SequenceNumber)
	h.Write(record.SessionHash[:])

	var out domain.Bytes32
	copy(out[:], h.Sum(nil))
	return out
}

// ChainBreak walks records in id order starting from prev. It returns the index of the first
// record whose stored digest does not match, or -1, along with the last good digest.
func ChainBreak(prev domain.Bytes32, records []domain.PaymentRecord) (int, domain.Bytes32) {
	for i := range records {
		want := ReceiptDigest(prev, &records[i])
		if want != records[i].ReceiptDigest {
			return i, prev
		}
		prev = want
	}
	return -1, prev
}
