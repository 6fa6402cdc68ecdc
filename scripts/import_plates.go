package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlateRow is one registered plate read from the CSV file.
type PlateRow struct {
	Line            int
	PlateText       string
	Province        string
	VehicleType     string
	OwnerName       string
	IsBlacklisted   bool
	BlacklistReason string
}

type platePayload struct {
	PlateText       string  `json:"plate_text"`
	Province        *string `json:"province,omitempty"`
	VehicleType     *string `json:"vehicle_type,omitempty"`
	OwnerName       *string `json:"owner_name,omitempty"`
	IsBlacklisted   bool    `json:"is_blacklisted"`
	BlacklistReason *string `json:"blacklist_reason,omitempty"`
}

const defaultServiceURL = "http://localhost:8080"

var httpClient = &http.Client{Timeout: 15 * time.Second}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run import_plates.go <path-to-csv> [service-url]")
		fmt.Println("Example: go run import_plates.go plates.csv http://localhost:8080")
		fmt.Println("CSV header: plate_text,province,vehicle_type,owner_name,is_blacklisted,blacklist_reason")
		fmt.Println("Credentials: ANPR_TOKEN, or ANPR_USERNAME and ANPR_PASSWORD")
		os.Exit(1)
	}

	csvPath := os.Args[1]
	serviceURL := defaultServiceURL
	if len(os.Args) > 2 {
		serviceURL = strings.TrimRight(os.Args[2], "/")
	}

	fmt.Println("Step 1: Reading CSV file...")
	f, err := os.Open(csvPath)
	if err != nil {
		fmt.Printf("Error opening CSV: %v\n", err)
		os.Exit(1)
	}
	rows, err := readPlates(f)
	f.Close()
	if err != nil {
		fmt.Printf("Error reading CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Read %d plates from CSV\n", len(rows))

	fmt.Println("\nStep 2: Authenticating...")
	token, err := resolveToken(serviceURL)
	if err != nil {
		fmt.Printf("Error authenticating: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Got access token")

	fmt.Println("\nStep 3: Creating plates...")
	created, existing, failed := 0, 0, 0
	for _, row := range rows {
		status, err := createPlate(serviceURL, token, row)
		switch {
		case err != nil:
			failed++
			fmt.Printf("  ✗ line %d %s: %v\n", row.Line, row.PlateText, err)
		case status == http.StatusConflict:
			existing++
			fmt.Printf("  - line %d %s: already registered\n", row.Line, row.PlateText)
		default:
			created++
			fmt.Printf("  ✓ line %d %s\n", row.Line, row.PlateText)
		}
	}

	fmt.Printf("\nDone: %d created, %d already registered, %d failed\n", created, existing, failed)
	if failed > 0 {
		os.Exit(2)
	}
}

// readPlates parses a CSV with a header row. Only plate_text is required;
// columns are matched by header name in any order.
func readPlates(r io.Reader) ([]PlateRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := cols["plate_text"]; !ok {
		return nil, fmt.Errorf("missing plate_text column")
	}

	get := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []PlateRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := PlateRow{
			Line:            line,
			PlateText:       get(record, "plate_text"),
			Province:        get(record, "province"),
			VehicleType:     get(record, "vehicle_type"),
			OwnerName:       get(record, "owner_name"),
			BlacklistReason: get(record, "blacklist_reason"),
		}
		if row.PlateText == "" {
			continue
		}
		if raw := get(record, "is_blacklisted"); raw != "" {
			b, err := strconv.ParseBool(strings.ToLower(raw))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid is_blacklisted %q", line, raw)
			}
			row.IsBlacklisted = b
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func resolveToken(serviceURL string) (string, error) {
	if token := strings.TrimSpace(os.Getenv("ANPR_TOKEN")); token != "" {
		return token, nil
	}

	username := os.Getenv("ANPR_USERNAME")
	password := os.Getenv("ANPR_PASSWORD")
	if username == "" {
		fmt.Print("Enter username: ")
		fmt.Scanln(&username)
	}
	if password == "" {
		fmt.Print("Enter password: ")
		fmt.Scanln(&password)
	}

	form := url.Values{"username": {username}, "password": {password}}
	resp, err := httpClient.PostForm(serviceURL+"/auth/login", form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.AccessToken, nil
}

func createPlate(serviceURL, token string, row PlateRow) (int, error) {
	payload := platePayload{
		PlateText:       row.PlateText,
		Province:        optional(row.Province),
		VehicleType:     optional(row.VehicleType),
		OwnerName:       optional(row.OwnerName),
		IsBlacklisted:   row.IsBlacklisted,
		BlacklistReason: optional(row.BlacklistReason),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, serviceURL+"/api/v1/plates", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return resp.StatusCode, nil
	default:
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
