package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/oauth2/google"
)

const sheetsBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// sheetsScope is the OAuth2 scope required for read/write sheet access.
const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// SheetProps identifies one tab of the spreadsheet.
type SheetProps struct {
	SheetID int64
	Title   string
}

// SheetAPI is the set of spreadsheet primitives the ledger is built on.
// The production implementation talks to the Google Sheets v4 REST API;
// tests substitute an in-memory fake.
type SheetAPI interface {
	SheetProperties(ctx context.Context) ([]SheetProps, error)
	AddSheet(ctx context.Context, title string) error
	GetValues(ctx context.Context, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, rng string, values [][]string) error
	AppendValues(ctx context.Context, rng string, values [][]string) error
	DeleteRow(ctx context.Context, sheetID int64, rowIndex int64) error
}

// Client is an authenticated Google Sheets API client bound to one
// spreadsheet.
type Client struct {
	httpClient    *http.Client
	spreadsheetID string
}

// NewClient creates a Sheets client from a service-account key file.
func NewClient(ctx context.Context, credentialsFile, spreadsheetID string) (*Client, error) {
	key, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading service account key: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(key, sheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}

	return &Client{
		httpClient:    conf.Client(ctx),
		spreadsheetID: spreadsheetID,
	}, nil
}

// doJSON performs a request and decodes the JSON response into out (which
// may be nil when the body is irrelevant).
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sheets API request failed: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sheets API error %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding sheets response: %w", err)
		}
	}
	return nil
}

// SheetProperties fetches the titles and ids of all tabs.
func (c *Client) SheetProperties(ctx context.Context) ([]SheetProps, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=sheets.properties", sheetsBaseURL, c.spreadsheetID)

	var meta struct {
		Sheets []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &meta); err != nil {
		return nil, err
	}

	props := make([]SheetProps, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		props = append(props, SheetProps{SheetID: s.Properties.SheetID, Title: s.Properties.Title})
	}
	return props, nil
}

// AddSheet creates a new tab with the given title.
func (c *Client) AddSheet(ctx context.Context, title string) error {
	endpoint := fmt.Sprintf("%s/%s:batchUpdate", sheetsBaseURL, c.spreadsheetID)
	payload := map[string]any{
		"requests": []map[string]any{
			{"addSheet": map[string]any{"properties": map[string]any{"title": title}}},
		},
	}
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
}

// GetValues reads a range as a grid of strings.
func (c *Client) GetValues(ctx context.Context, rng string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", sheetsBaseURL, c.spreadsheetID, url.PathEscape(rng))

	var out struct {
		Values [][]string `json:"values"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// UpdateValues overwrites a range with the given rows.
func (c *Client) UpdateValues(ctx context.Context, rng string, values [][]string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW",
		sheetsBaseURL, c.spreadsheetID, url.PathEscape(rng))
	payload := map[string]any{"values": values}
	return c.doJSON(ctx, http.MethodPut, endpoint, payload, nil)
}

// AppendValues appends rows after the last row of the range's table.
func (c *Client) AppendValues(ctx context.Context, rng string, values [][]string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW",
		sheetsBaseURL, c.spreadsheetID, url.PathEscape(rng))
	payload := map[string]any{"values": values}
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
}

// DeleteRow removes one row (0-based index) from the given tab.
func (c *Client) DeleteRow(ctx context.Context, sheetID int64, rowIndex int64) error {
	endpoint := fmt.Sprintf("%s/%s:batchUpdate", sheetsBaseURL, c.spreadsheetID)
	payload := map[string]any{
		"requests": []map[string]any{
			{"deleteDimension": map[string]any{
				"range": map[string]any{
					"sheetId":    sheetID,
					"dimension":  "ROWS",
					"startIndex": rowIndex,
					"endIndex":   rowIndex + 1,
				},
			}},
		},
	}
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
}
