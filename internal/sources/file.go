package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/subwatch/subwatch/internal/models"
)

// File-backed sources for development and mock mode. They read JSON fixtures
// instead of calling a provider, and ignore credentials.

// FileEmailSource serves messages from a JSON array file.
type FileEmailSource struct {
	path string
}

// NewFileEmailSource returns an email source reading from path.
func NewFileEmailSource(path string) *FileEmailSource {
	return &FileEmailSource{path: path}
}

// Fetch implements EmailSource. Results are newest first, like the real
// providers.
func (f *FileEmailSource) Fetch(_ context.Context, _ Credentials, query EmailQuery) ([]models.EmailMessage, error) {
	var msgs []models.EmailMessage
	if err := readJSONFile(f.path, &msgs); err != nil {
		return nil, err
	}

	filtered := msgs[:0]
	for _, msg := range msgs {
		if !query.After.IsZero() && msg.Date.Before(query.After) {
			continue
		}
		filtered = append(filtered, msg)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Date.After(filtered[j].Date) })
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[:query.Limit]
	}
	return filtered, nil
}

// FileBankSource serves transactions from a JSON array file.
type FileBankSource struct {
	path     string
	pageSize int
}

// NewFileBankSource returns a bank source reading from path.
func NewFileBankSource(path string) *FileBankSource {
	return &FileBankSource{path: path, pageSize: 100}
}

// Fetch implements BankSource with offset-cursor pagination.
func (f *FileBankSource) Fetch(_ context.Context, _ Credentials, since time.Time, cursor string) (BankPage, error) {
	var txs []models.BankTransaction
	if err := readJSONFile(f.path, &txs); err != nil {
		return BankPage{}, err
	}

	filtered := txs[:0]
	for _, tx := range txs {
		if !since.IsZero() && tx.Date.Before(since) {
			continue
		}
		filtered = append(filtered, tx)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Date.Before(filtered[j].Date) })

	offset := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &offset); err != nil || offset < 0 || offset > len(filtered) {
			return BankPage{}, fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	end := offset + f.pageSize
	next := ""
	if end >= len(filtered) {
		end = len(filtered)
	} else {
		next = fmt.Sprintf("%d", end)
	}
	return BankPage{Transactions: filtered[offset:end], NextCursor: next}, nil
}

// TextExtractor treats the document bytes as already-extracted text. Real
// statement OCR sits behind the same interface in production.
type TextExtractor struct{}

// Extract implements StatementExtractor.
func (TextExtractor) Extract(_ context.Context, document []byte) (string, error) {
	return string(document), nil
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct{}

// Send implements Notifier.
func (LogNotifier) Send(_ context.Context, userID, message string) error {
	log.Info().Str("userID", userID).Str("message", message).Msg("Notification")
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return nil
}

var (
	_ EmailSource        = (*FileEmailSource)(nil)
	_ BankSource         = (*FileBankSource)(nil)
	_ StatementExtractor = TextExtractor{}
	_ Notifier           = LogNotifier{}
)
