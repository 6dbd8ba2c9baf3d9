package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sealedsession/crypto"
	"github.com/jmcleod/sealedsession/storage"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testNow = int64(1_700_000_000_000)

var testKey = crypto.DeriveKey([]byte("test master secret"))

func testVerifier(t *testing.T, key []byte) string {
	t.Helper()
	v, err := crypto.EncodeKey("0123456789abcdef0123456789abcdef", key)
	require.NoError(t, err)
	return v
}

// buildValidRows returns n rows that pass every check.
func buildValidRows(t *testing.T, n int) []storage.Row {
	rows := make([]storage.Row, n)
	for i := range rows {
		rows[i] = storage.Row{
			UserID:   fmt.Sprintf("user-%d", i),
			Verifier: testVerifier(t, testKey),
		}
	}
	return rows
}

func findCheck(t *testing.T, result verifyResult, name string) checkResult {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s not found", name)
	return checkResult{}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestVerify_ValidRows(t *testing.T) {
	result := verifyRows(buildValidRows(t, 5), testKey, testNow)

	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.RowCount)
	for _, c := range result.Checks {
		assert.Equal(t, "pass", c.Status, "check %s should pass", c.Name)
	}
}

func TestVerify_EmptyStore(t *testing.T) {
	result := verifyRows(nil, testKey, testNow)

	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.RowCount)
	require.Len(t, result.Checks, 1)
	assert.Equal(t, "empty_store", result.Checks[0].Name)
	assert.Equal(t, "pass", result.Checks[0].Status)
}

func TestVerify_BadUserIDs(t *testing.T) {
	rows := buildValidRows(t, 3)
	rows[1].UserID = "a|b"

	result := verifyRows(rows, testKey, testNow)
	assert.False(t, result.Valid)
	c := findCheck(t, result, "valid_user_ids")
	assert.Equal(t, "fail", c.Status)
	assert.Contains(t, c.Detail, "row 1")
}

func TestVerify_MalformedVerifier(t *testing.T) {
	rows := buildValidRows(t, 3)
	rows[2].Verifier = "not-a-verifier"

	result := verifyRows(rows, testKey, testNow)
	assert.False(t, result.Valid)
	assert.Equal(t, "fail", findCheck(t, result, "verifier_format").Status)
	// Malformed rows are reported once, not again as undecryptable.
	assert.Equal(t, "pass", findCheck(t, result, "verifier_key").Status)
}

func TestVerify_WrongMasterSecret(t *testing.T) {
	rows := buildValidRows(t, 2)
	rows[0].Verifier = testVerifier(t, crypto.DeriveKey([]byte("another secret")))

	result := verifyRows(rows, testKey, testNow)
	c := findCheck(t, result, "verifier_key")
	assert.Equal(t, "fail", c.Status)
	assert.Contains(t, c.Detail, "user-0")
	assert.False(t, result.Valid)
}

func TestVerify_ExpiredIsWarning(t *testing.T) {
	rows := buildValidRows(t, 3)
	rows[0].ExpiresEnabled = true
	rows[0].ExpiresAtMillis = testNow - 1
	rows[1].ExpiresEnabled = true
	rows[1].ExpiresAtMillis = testNow

	result := verifyRows(rows, testKey, testNow)
	assert.True(t, result.Valid, "expired sessions only warn")
	c := findCheck(t, result, "expired_sessions")
	assert.Equal(t, "warn", c.Status)
	assert.Contains(t, c.Detail, "1 row(s): user-0")
}

func TestVerify_DetailIsTruncated(t *testing.T) {
	rows := buildValidRows(t, 8)
	for i := range rows {
		rows[i].Verifier = "garbage"
	}

	result := verifyRows(rows, testKey, testNow)
	c := findCheck(t, result, "verifier_format")
	assert.Contains(t, c.Detail, "8 row(s)")
	assert.Contains(t, c.Detail, ", ...")
	assert.NotContains(t, c.Detail, "user-7")
}

func TestPrintHumanResult(t *testing.T) {
	rows := buildValidRows(t, 2)
	rows[0].Verifier = "garbage"
	rows[1].ExpiresEnabled = true
	rows[1].ExpiresAtMillis = 1
	result := verifyRows(rows, testKey, testNow)
	result.Driver = "bbolt"

	var buf bytes.Buffer
	printHumanResult(&buf, result)
	out := buf.String()
	assert.Contains(t, out, "Session store verification: bbolt")
	assert.Contains(t, out, "[FAIL] verifier_format")
	assert.Contains(t, out, "[WARN] expired_sessions")
	assert.Contains(t, out, "Result: INVALID (1 error(s), 1 warning(s))")
}

func TestPrintJSONResult(t *testing.T) {
	result := verifyRows(buildValidRows(t, 1), testKey, testNow)
	result.Driver = "memory"

	var buf bytes.Buffer
	require.NoError(t, printJSONResult(&buf, result))

	var decoded verifyResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, result, decoded)
}
