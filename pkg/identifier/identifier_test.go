package identifier

import (
	"math"
	"strings"
	"testing"
)

// TestLengthRelationships tests the mathematical relationship between
// collisionResistantLength and targetBase62Length.
func TestLengthRelationships(t *testing.T) {
	if targetBase62Length != int(math.Ceil(collisionResistantLength*8*math.Log(2)/math.Log(62))) {
		t.Error("target base62 length incorrect for collision resistant length")
	}
}

// TestIdentifierCreation tests identifier creation.
func TestIdentifierCreation(t *testing.T) {
	for _, prefix := range []string{PrefixSession, PrefixServer} {
		identifier, err := New(prefix)
		if err != nil {
			t.Fatal("unable to create identifier:", err)
		}
		if !strings.HasPrefix(identifier, prefix+"_") {
			t.Error("identifier does not have correct prefix")
		}
		if !IsValid(identifier) {
			t.Error("generated identifier classified as invalid:", identifier)
		}
	}
}

// TestPrefixEnforcement tests that identifier creation fails with invalid
// prefixes.
func TestPrefixEnforcement(t *testing.T) {
	if _, err := New("xyz"); err == nil {
		t.Error("invalid prefix length accepted")
	}
	if _, err := New("XYZW"); err == nil {
		t.Error("invalid prefix characters accepted")
	}
}

// TestIsValid tests that IsValid behaves correctly for an assortment of values.
func TestIsValid(t *testing.T) {
	testCases := []struct {
		value       string
		expectValid bool
	}{
		{"", false},
		{"abc", false},
		{"sess_jndACgB0qejgkorhU21q4oA56QvEfqV1p2yBH9N40h+", false},
		{"sess_jndACgB0qejgkorhU21q4oA56QvEfqV1p2yBH9N40hK1", false},
		{"se9s_jndACgB0qejgkorhU21q4oA56QvEfqV1p2yBH9N40hK", false},
		{"SESS_jndACgB0qejgkorhU21q4oA56QvEfqV1p2yBH9N40hK", false},
		{"sess_jndACgB0qejgkorhU21q4oA56QvEfqV1p2yBH9N40hK", true},
	}
	for _, testCase := range testCases {
		if valid := IsValid(testCase.value); valid != testCase.expectValid {
			t.Errorf("identifier %q classified incorrectly: %t", testCase.value, valid)
		}
	}
}
