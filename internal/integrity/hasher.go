package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HashPrefix tags every integrity hash so stored values are self-describing.
const HashPrefix = "BLK254-"

const integrityHexLen = 32

// VoterHash derives the anonymized 8-hex-char voter identifier. The input
// string is deliberately lossy (a voter-id suffix and two lengths), so the
// hash cannot be inverted to PII while staying stable for the same voter.
func VoterHash(voterID, voterName string) string {
	suffix := voterID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	combined := suffix + strconv.Itoa(len(voterName)) + strconv.Itoa(len(voterID))
	return rollingHex(combined, 8)
}

// UserHash is the 12-hex-char receipt binding hash over contact and locality
// fields. Same rolling primitive as VoterHash, wider rendering.
func UserHash(name, phone, ward, constituency string) string {
	return rollingHex(name+phone+ward+constituency, 12)
}

// Hash computes the tamper-evidence hash over the authoritative record
// fields. Anyone holding the same inputs can reproduce it and detect
// post-hoc edits.
func Hash(signatureID, petitionID, voterHash string, timestampMillis int64, ward, constituency string) string {
	input := signatureID + petitionID + voterHash + strconv.FormatInt(timestampMillis, 10) + ward + "-" + constituency
	sum := sha256.Sum256([]byte(input))
	return HashPrefix + hex.EncodeToString(sum[:])[:integrityHexLen]
}

// rollingHex runs the 31-multiplier rolling hash with int32 wraparound and
// renders the absolute value as zero-padded uppercase hex of exactly width
// characters. Matches the historical receipt/voter hash values bit for bit.
func rollingHex(s string, width int) string {
	var h int32
	for _, r := range s {
		h = h*31 + int32(r)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	out := strings.ToUpper(strconv.FormatInt(abs, 16))
	if len(out) < width {
		out = strings.Repeat("0", width-len(out)) + out
	}
	return out[:width]
}
