package subscriber

import (
	"context"
	"strings"

	"github.com/hostedid/notifier/internal/logger"
)

// Source returns the raw cells of the subscriber address column, in row order.
type Source interface {
	Column(ctx context.Context) ([]string, error)
}

// Loader turns a Source into the recipient set for one run.
type Loader struct {
	src        Source
	headerRows int
	sheetName  string
	log        *logger.Logger
}

// NewLoader creates a new Loader. sheetName is only used in failure hints.
func NewLoader(src Source, headerRows int, sheetName string, log *logger.Logger) *Loader {
	return &Loader{
		src:        src,
		headerRows: headerRows,
		sheetName:  sheetName,
		log:        log.WithComponent("subscriber_loader"),
	}
}

// Load returns the deduplicated, trimmed, non-empty addresses from the source.
// Any source failure is logged and yields an empty result; it is never returned.
func (l *Loader) Load(ctx context.Context) []string {
	cells, err := l.src.Column(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to read subscriber sheet")
		l.log.Error().
			Str("sheet", l.sheetName).
			Msgf("check that the sheet is named %q and is shared with the service account", l.sheetName)
		return []string{}
	}

	recipients := Normalize(cells, l.headerRows)
	l.log.Info().
		Int("rows", len(cells)).
		Int("unique", len(recipients)).
		Msgf("loaded %d unique email addresses", len(recipients))

	return recipients
}

// Normalize drops the header cells, trims whitespace, discards blanks and
// removes exact duplicates. First-seen order is preserved. Case is significant.
func Normalize(cells []string, headerRows int) []string {
	if headerRows < 0 {
		headerRows = 0
	}
	if len(cells) <= headerRows {
		return []string{}
	}

	seen := make(map[string]struct{}, len(cells)-headerRows)
	out := make([]string, 0, len(cells)-headerRows)
	for _, cell := range cells[headerRows:] {
		addr := strings.TrimSpace(cell)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	return out
}
