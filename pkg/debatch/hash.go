package debatch

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/ajitpratap0/interlink/pkg/models"
)

// Hash returns the hex SHA-256 fingerprint of a raw batch payload.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HashRecords fingerprints a result set that has no raw bytes. Every string is
// length-prefixed so ("ab","c") and ("a","bc") hash differently.
func HashRecords(columns []string, records []models.Record) string {
	h := sha256.New()
	writeStrings(h, columns)
	for _, r := range records {
		values := make([]string, len(columns))
		for i, c := range columns {
			values[i] = r.Values[c]
		}
		writeStrings(h, values)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeStrings(h hash.Hash, values []string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(values)))
	h.Write(n[:])
	for _, v := range values {
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		h.Write(n[:])
		h.Write([]byte(v))
	}
}
