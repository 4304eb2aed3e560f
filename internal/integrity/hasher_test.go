package integrity

import (
	"regexp"
	"strings"
	"testing"
)

var (
	upperHex8  = regexp.MustCompile(`^[0-9A-F]{8}$`)
	upperHex12 = regexp.MustCompile(`^[0-9A-F]{12}$`)
	blockHash  = regexp.MustCompile(`^BLK254-[0-9a-f]{32}$`)
)

func TestVoterHashShape(t *testing.T) {
	h := VoterHash("32165498", "Jane Wanjiku")
	if !upperHex8.MatchString(h) {
		t.Fatalf("voter hash %q does not match 8-char uppercase hex", h)
	}
	if h != VoterHash("32165498", "Jane Wanjiku") {
		t.Fatal("voter hash must be deterministic")
	}
}

func TestVoterHashGolden(t *testing.T) {
	// combined input is "5678" + len("Jane") + len("12345678") = "567848".
	if got := VoterHash("12345678", "Jane"); got != "5D83A746" {
		t.Fatalf("want 5D83A746, got %q", got)
	}
}

func TestVoterHashUsesLengthsNotContent(t *testing.T) {
	// Only the id suffix and the two lengths enter the hash; two names of
	// equal length collide on purpose.
	a := VoterHash("32165498", "Jane")
	b := VoterHash("32165498", "John")
	if a != b {
		t.Fatalf("equal-length names must hash alike: %q vs %q", a, b)
	}
	c := VoterHash("32165498", "Johnathan")
	if a == c {
		t.Fatal("different name length must change the hash")
	}
	d := VoterHash("32160000", "Jane")
	if a == d {
		t.Fatal("different id suffix must change the hash")
	}
}

func TestUserHashShape(t *testing.T) {
	h := UserHash("Jane Wanjiku", "0712345678", "Kibra", "Langata")
	if !upperHex12.MatchString(h) {
		t.Fatalf("user hash %q does not match 12-char uppercase hex", h)
	}
	if h == UserHash("Jane Wanjiku", "0712345678", "Kibra", "Westlands") {
		t.Fatal("constituency must influence the user hash")
	}
}

func TestHashShapeAndSensitivity(t *testing.T) {
	voterHash := VoterHash("32165498", "Jane Wanjiku")
	base := Hash("sig-1", "petition-1", voterHash, 1741608000000, "Kibra", "Langata")

	if !blockHash.MatchString(base) {
		t.Fatalf("hash %q does not match BLK254 format", base)
	}
	if base != Hash("sig-1", "petition-1", voterHash, 1741608000000, "Kibra", "Langata") {
		t.Fatal("hash must be reproducible from the same inputs")
	}

	variants := []string{
		Hash("sig-2", "petition-1", voterHash, 1741608000000, "Kibra", "Langata"),
		Hash("sig-1", "petition-2", voterHash, 1741608000000, "Kibra", "Langata"),
		Hash("sig-1", "petition-1", voterHash, 1741608000001, "Kibra", "Langata"),
		Hash("sig-1", "petition-1", voterHash, 1741608000000, "Lindi", "Langata"),
		Hash("sig-1", "petition-1", voterHash, 1741608000000, "Kibra", "Westlands"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d must differ from base hash", i)
		}
	}
}

func TestRollingHexPadding(t *testing.T) {
	// A single low character keeps the value small enough to need padding.
	h := rollingHex("a", 8)
	if len(h) != 8 || !strings.HasPrefix(h, "0") {
		t.Fatalf("want zero-padded 8-char value, got %q", h)
	}
	if h != "00000061" {
		t.Fatalf("want 00000061, got %q", h)
	}
}
