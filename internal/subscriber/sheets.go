package subscriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/hostedid/notifier/internal/config"
)

// Sheet lookup errors
var (
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found")
	ErrNoTabs              = errors.New("spreadsheet has no tabs")
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// SheetsSource reads the subscriber column from a Google Sheets spreadsheet.
// Authentication, lookup and the read all happen inside Column so that every
// failure reaches the Loader.
type SheetsSource struct {
	cfg config.SheetConfig

	// sheetsOpts and driveOpts replace credential-based auth when set.
	sheetsOpts []option.ClientOption
	driveOpts  []option.ClientOption
}

// NewSheetsSource creates a new SheetsSource.
func NewSheetsSource(cfg config.SheetConfig) *SheetsSource {
	return &SheetsSource{cfg: cfg}
}

// Column reads every row of the configured column of the first tab.
func (s *SheetsSource) Column(ctx context.Context) ([]string, error) {
	sheetsOpts, driveOpts, err := s.clientOptions(ctx)
	if err != nil {
		return nil, err
	}

	id := s.cfg.SpreadsheetID
	if id == "" {
		id, err = s.findByName(ctx, driveOpts)
		if err != nil {
			return nil, err
		}
	}

	svc, err := sheets.NewService(ctx, sheetsOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to create service: %w", err)
	}

	meta, err := svc.Spreadsheets.Get(id).Fields("sheets.properties(title,index)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to open spreadsheet %s: %w", id, err)
	}
	tab, err := firstTab(meta)
	if err != nil {
		return nil, fmt.Errorf("sheets: %s: %w", id, err)
	}

	rng := columnRange(tab, s.cfg.Column)
	vr, err := svc.Spreadsheets.Values.Get(id, rng).MajorDimension("COLUMNS").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to read %s: %w", rng, err)
	}

	if len(vr.Values) == 0 {
		return []string{}, nil
	}
	cells := make([]string, len(vr.Values[0]))
	for i, v := range vr.Values[0] {
		cells[i] = fmt.Sprint(v)
	}

	return cells, nil
}

func (s *SheetsSource) clientOptions(ctx context.Context) ([]option.ClientOption, []option.ClientOption, error) {
	if len(s.sheetsOpts) > 0 {
		return s.sheetsOpts, s.driveOpts, nil
	}

	creds := []byte(s.cfg.CredentialsJSON)
	if len(creds) == 0 && s.cfg.CredentialsFile != "" {
		b, err := os.ReadFile(s.cfg.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("sheets: failed to read credentials file: %w", err)
		}
		creds = b
	}
	if len(creds) == 0 {
		return nil, nil, fmt.Errorf("sheets: credentials JSON is required")
	}

	jwtConfig, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope, drive.DriveScope)
	if err != nil {
		return nil, nil, fmt.Errorf("sheets: failed to parse credentials: %w", err)
	}

	opt := option.WithHTTPClient(jwtConfig.Client(ctx))
	return []option.ClientOption{opt}, []option.ClientOption{opt}, nil
}

// findByName resolves the spreadsheet display name to its file ID through Drive.
func (s *SheetsSource) findByName(ctx context.Context, opts []option.ClientOption) (string, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("drive: failed to create service: %w", err)
	}

	list, err := svc.Files.List().
		Q(nameQuery(s.cfg.SpreadsheetName)).
		Fields("files(id,name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive: failed to search for %q: %w", s.cfg.SpreadsheetName, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("%w: %q", ErrSpreadsheetNotFound, s.cfg.SpreadsheetName)
	}

	return list.Files[0].Id, nil
}

func nameQuery(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name)
	return fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escaped, spreadsheetMimeType)
}

func firstTab(meta *sheets.Spreadsheet) (string, error) {
	var (
		title string
		found bool
		best  int64
	)
	for _, sh := range meta.Sheets {
		if sh.Properties == nil {
			continue
		}
		if !found || sh.Properties.Index < best {
			title, best, found = sh.Properties.Title, sh.Properties.Index, true
		}
	}
	if !found {
		return "", ErrNoTabs
	}
	return title, nil
}

// columnRange returns the A1 range covering a whole column of a tab.
func columnRange(tab string, column int) string {
	letter := columnLetter(column)
	quoted := "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	return fmt.Sprintf("%s!%s:%s", quoted, letter, letter)
}

// columnLetter converts a 1-based column index to its A1 letters (1 → A, 27 → AA).
func columnLetter(column int) string {
	if column < 1 {
		column = 1
	}
	var b []byte
	for column > 0 {
		column--
		b = append([]byte{byte('A' + column%26)}, b...)
		column /= 26
	}
	return string(b)
}
