package mcpserver

import (
	"fmt"
	"strings"

	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/reqservice"
)

// keyFormatIntro describes how alternate keys are built and resolved. The
// project-specific part is appended by KeyFormatContract.
const keyFormatIntro = `# Requirement Key Format

Every record has two identifiers:

- an internal id (UUID). It never changes and is never reused.
- an alternate key such as ` + "`FR-001`" + `. It is unique within the store and
  changes only when an administrator re-derives keys.

Tools that take a ` + "`ref`" + ` accept either form. Keys are matched
case-insensitively, so ` + "`fr-001`" + ` resolves to ` + "`FR-001`" + `.

## Rules

1. Prefer the alternate key when talking to people and the internal id when
   storing references that must survive a renumbering.
2. Keys are never recycled: a deleted record's number is not handed out again.
3. The prefix comes from the record's override, else its type, else its feature.
`

// KeyFormatContract renders the key format document for the active
// identifier policy.
func KeyFormatContract(v *reqservice.IdConfigView) string {
	var b strings.Builder
	b.WriteString(keyFormatIntro)
	b.WriteString("\n## This project\n\n")
	fmt.Fprintf(&b, "- Shape: `%s`\n", v.KeyFormat)
	fmt.Fprintf(&b, "- Numbering: `%s`\n", v.Config.Numbering)
	fmt.Fprintf(&b, "- Digits: %d\n", v.Config.Digits)
	if v.Config.Format == models.FormatTwoLevel {
		b.WriteString("- Two-level keys join the feature prefix and the type prefix, e.g. `AUTH-FR-001`.\n")
	}
	if v.Config.Numbering == models.NumberingGlobal {
		fmt.Fprintf(&b, "- Next number: %d\n", v.Counters.NextSpecNumber)
	}
	return b.String()
}
