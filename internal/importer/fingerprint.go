package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NormalizeContent canonicalizes file content before fingerprinting: any
// leading BOM is stripped, line endings collapse to LF, and blank lines are
// removed. Cosmetic re-saves of the same file therefore hash identically.
func NormalizeContent(data []byte) ([]byte, error) {
	r := transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	clean, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "importer: decode content")
	}

	text := strings.ReplaceAll(string(clean), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// Fingerprint computes the stable content hash used for duplicate detection.
func Fingerprint(data []byte) (string, error) {
	normalized, err := NormalizeContent(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// Guard classifies a new upload against earlier attempts with the same
// fingerprint.
type Guard struct {
	store Store
}

// NewGuard creates a Guard backed by the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Check looks up the most recent attempt with the same fingerprint and
// applies the duplicate policy:
//   - no prior attempt: not a duplicate, proceed
//   - prior published: duplicate, not retryable
//   - prior failed/validation_failed/rolled_back: retryable, new attempt
//     allowed with duplicateOf pointing at the original
//   - prior in-flight (uploaded/validating/staged): retryable; exclusivity
//     is enforced at attempt creation, not here
func (g *Guard) Check(ctx context.Context, fingerprint string) (*GuardResult, error) {
	prior, err := g.store.LatestAttemptByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, eris.Wrap(err, "importer: guard lookup")
	}

	if prior == nil {
		return &GuardResult{IsDuplicate: false, CanRetry: false}, nil
	}

	switch prior.Status {
	case StatusPublished:
		return &GuardResult{
			IsDuplicate: true,
			CanRetry:    false,
			Reason: fmt.Sprintf("identical content was already published as import %s (%q, uploaded %s)",
				prior.ID, prior.Filename, prior.UploadedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
			OriginalImport: prior,
		}, nil
	case StatusFailed, StatusValidationFailed:
		return &GuardResult{
			IsDuplicate:    true,
			CanRetry:       true,
			Reason:         fmt.Sprintf("previous import %s did not complete (%s); a retry attempt is allowed", prior.ID, prior.Status),
			OriginalImport: prior,
		}, nil
	case StatusRolledBack:
		return &GuardResult{
			IsDuplicate:    true,
			CanRetry:       true,
			Reason:         fmt.Sprintf("previous import %s was rolled back; a fresh attempt is allowed", prior.ID),
			OriginalImport: prior,
		}, nil
	default:
		return &GuardResult{
			IsDuplicate:    true,
			CanRetry:       true,
			Reason:         fmt.Sprintf("an attempt over identical content is in flight (%s, status %s)", prior.ID, prior.Status),
			OriginalImport: prior,
		}, nil
	}
}
