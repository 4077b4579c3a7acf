package sheets

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"crm/internal/logger"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Service handles Google Sheets operations
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
}

// NewSheetsService creates a new Google Sheets service
func NewSheetsService(ctx context.Context, sheetURL string) (*Service, error) {
	const op = "NewSheetsService"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}

	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	var creds []byte
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		log:           log,
	}, nil
}

func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// ReadRange reads values from a specified range in the spreadsheet
func (s *Service) ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	const op = "ReadRange"

	s.log.Debug().
		Str("range", rangeSpec).
		Msg("Reading range from spreadsheet")

	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, rangeSpec).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read range %s: %w", op, rangeSpec, err)
	}

	s.log.Debug().
		Int("rows", len(resp.Values)).
		Str("range", rangeSpec).
		Msg("Successfully read range from spreadsheet")

	return resp.Values, nil
}

// WriteTable replaces the content of sheetName with a header row followed
// by rows. The sheet is created when missing.
func (s *Service) WriteTable(ctx context.Context, sheetName string, header []string, rows [][]interface{}) error {
	const op = "WriteTable"

	if len(header) == 0 {
		return fmt.Errorf("%s: header is empty", op)
	}

	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(rows)).
		Msg("Writing table to Google Sheet")

	sheetID, err := s.ensureSheet(ctx, sheetName)
	if err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	lastCol := columnLetter(len(header))
	if _, err := s.sheetsService.Spreadsheets.Values.Clear(
		s.spreadsheetID,
		fmt.Sprintf("%s!A:%s", sheetName, lastCol),
		&sheets.ClearValuesRequest{},
	).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to clear sheet: %w", op, err)
	}

	values := make([][]interface{}, 0, len(rows)+1)
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	values = append(values, headerRow)
	values = append(values, rows...)

	_, err = s.sheetsService.Spreadsheets.Values.Update(
		s.spreadsheetID,
		fmt.Sprintf("%s!A1:%s%d", sheetName, lastCol, len(values)),
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to write values: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID, int64(len(header))); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}

	s.log.Info().
		Int("rows_written", len(rows)).
		Str("sheet", sheetName).
		Msg("Table written to Google Sheet")

	return nil
}

func (s *Service) ensureSheet(ctx context.Context, sheetName string) (int64, error) {
	const op = "ensureSheet"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == sheetName {
			return sheet.Properties.SheetId, nil
		}
	}

	s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")

	resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create sheet: %w", op, err)
	}

	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

// formatHeaders makes the header row bold and resizes the columns
func (s *Service) formatHeaders(ctx context.Context, sheetID, columns int64) error {
	const op = "formatHeaders"

	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{
							Red:   0.9,
							Green: 0.9,
							Blue:  0.9,
						},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	_, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}

	return nil
}

// columnLetter returns the A1 column name of the n-th column (1-based).
func columnLetter(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}
