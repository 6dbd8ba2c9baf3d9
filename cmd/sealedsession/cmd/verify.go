package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sealedsession/config"
	"github.com/jmcleod/sealedsession/crypto"
	"github.com/jmcleod/sealedsession/internal/util"
	"github.com/jmcleod/sealedsession/session"
	"github.com/jmcleod/sealedsession/storage"
)

// ---------------------------------------------------------------------------
// Verification result types
// ---------------------------------------------------------------------------

type verifyResult struct {
	Driver   string        `json:"driver"`
	RowCount int           `json:"row_count"`
	Valid    bool          `json:"valid"`
	Checks   []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

// ---------------------------------------------------------------------------
// Core verification logic
// ---------------------------------------------------------------------------

// verifyRows checks stored rows offline. key is the derived master key and
// now is the reference time in Unix milliseconds.
func verifyRows(rows []storage.Row, key []byte, now int64) verifyResult {
	result := verifyResult{
		RowCount: len(rows),
		Valid:    true,
	}

	// Empty store is valid.
	if len(rows) == 0 {
		result.Checks = append(result.Checks, checkResult{
			Name: "empty_store", Status: "pass", Detail: "no sessions to verify",
		})
		return result
	}

	// 1. User ids can appear in a token.
	var badIDs []string
	for i, row := range rows {
		if err := session.ValidateUserID(row.UserID); err != nil {
			badIDs = append(badIDs, fmt.Sprintf("row %d (user_id=%q)", i, row.UserID))
		}
	}
	result.addCheck("valid_user_ids", badIDs, "fail")

	// 2. Verifiers have the iv:ciphertext shape.
	var malformed []string
	for _, row := range rows {
		if !crypto.WellFormed(row.Verifier) {
			malformed = append(malformed, row.UserID)
		}
	}
	result.addCheck("verifier_format", malformed, "fail")

	// 3. Verifiers decrypt under the configured master secret to a hex secret.
	var undecryptable []string
	for _, row := range rows {
		if !crypto.WellFormed(row.Verifier) {
			continue
		}
		secret, err := crypto.DecodeKey(row.Verifier, key)
		if err == nil {
			_, err = util.HexDecode(secret)
		}
		if err != nil || secret == "" {
			undecryptable = append(undecryptable, row.UserID)
		}
	}
	result.addCheck("verifier_key", undecryptable, "fail")

	// 4. Expired rows. These are removed on the next purge, so they only
	// warn.
	var expired []string
	for _, row := range rows {
		if row.ExpiresEnabled && now > row.ExpiresAtMillis {
			expired = append(expired, row.UserID)
		}
	}
	result.addCheck("expired_sessions", expired, "warn")

	return result
}

func (r *verifyResult) addCheck(name string, offenders []string, severity string) {
	if len(offenders) == 0 {
		r.Checks = append(r.Checks, checkResult{Name: name, Status: "pass"})
		return
	}
	if severity == "fail" {
		r.Valid = false
	}
	const maxListed = 5
	listed := offenders
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	detail := fmt.Sprintf("%d row(s): %s", len(offenders), strings.Join(listed, ", "))
	if len(offenders) > maxListed {
		detail += ", ..."
	}
	r.Checks = append(r.Checks, checkResult{Name: name, Status: severity, Detail: detail})
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(w io.Writer, result verifyResult) {
	fmt.Fprintf(w, "Session store verification: %s\n", result.Driver)
	fmt.Fprintf(w, "Rows: %d\n\n", result.RowCount)

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
		case "warn":
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		failures := 0
		warnings := 0
		for _, c := range result.Checks {
			if c.Status == "fail" {
				failures++
			} else if c.Status == "warn" {
				warnings++
			}
		}
		fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

func printJSONResult(w io.Writer, result verifyResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var verifyJSONOutput bool

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Session store inspection tools",
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the rows of the configured session store",
	Long: `Reads every stored session and checks that user ids are usable, that
verifiers are well formed and decrypt under the configured master secret,
and reports sessions that have expired.

Rows that fail here are dropped by the server on its next start.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		exitf(2, "%v", err)
	}
	secret, err := cfg.ReadMasterSecret()
	if err != nil {
		exitf(2, "%v", err)
	}
	key := crypto.DeriveKey(secret)
	util.WipeBytes(secret)
	defer util.WipeBytes(key)

	rows, err := loadRows(cmd.Context(), cfg)
	if err != nil {
		exitf(2, "%v", err)
	}

	result := verifyRows(rows, key, time.Now().UnixMilli())
	result.Driver = cfg.Store.Driver

	if verifyJSONOutput {
		if err := printJSONResult(cmd.OutOrStdout(), result); err != nil {
			exitf(2, "%v", err)
		}
	} else {
		printHumanResult(cmd.OutOrStdout(), result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}

func loadRows(ctx context.Context, cfg *config.Config) ([]storage.Row, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store.SelectAll(ctx)
}
