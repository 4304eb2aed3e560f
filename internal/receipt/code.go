package receipt

import (
	"errors"
	"io"
	"strings"
)

// Receipt code wire format, bit-exact:
//
//	REC254-{8 alphanumeric systemCode}-{12 hex userHash}-{first 6 of petitionId}
const (
	CodePrefix    = "REC254"
	systemCodeLen = 8
	userHashLen   = 12
	petitionRefLen = 6
)

const systemCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrMalformedCode rejects anything outside the receipt grammar before a
// lookup is even attempted.
var ErrMalformedCode = errors.New("MALFORMED_RECEIPT_CODE")

type codeParts struct {
	SystemCode  string
	UserHash    string
	PetitionRef string
}

func composeCode(systemCode, userHash, petitionID string) string {
	ref := petitionID
	if len(ref) > petitionRefLen {
		ref = ref[:petitionRefLen]
	}
	return CodePrefix + "-" + systemCode + "-" + userHash + "-" + ref
}

func parseCode(code string) (codeParts, error) {
	segments := strings.Split(code, "-")
	if len(segments) != 4 || segments[0] != CodePrefix {
		return codeParts{}, ErrMalformedCode
	}
	parts := codeParts{
		SystemCode:  segments[1],
		UserHash:    segments[2],
		PetitionRef: segments[3],
	}
	if len(parts.SystemCode) != systemCodeLen || !isUpperAlnum(parts.SystemCode) {
		return codeParts{}, ErrMalformedCode
	}
	if len(parts.UserHash) != userHashLen || !isUpperHex(parts.UserHash) {
		return codeParts{}, ErrMalformedCode
	}
	if parts.PetitionRef == "" || len(parts.PetitionRef) > petitionRefLen {
		return codeParts{}, ErrMalformedCode
	}
	return parts, nil
}

func newSystemCode(rng io.Reader) (string, error) {
	buf := make([]byte, systemCodeLen)
	if _, err := io.ReadFull(rng, buf); err != nil {
		return "", err
	}
	out := make([]byte, systemCodeLen)
	for i, b := range buf {
		out[i] = systemCodeAlphabet[int(b)%len(systemCodeAlphabet)]
	}
	return string(out), nil
}

func isUpperAlnum(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isUpperHex(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'F') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
