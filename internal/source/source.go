package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"dealwatcher/internal/catalog"
)

// Source supplies one cycle's observed listings. Implementations own the
// scraping and field extraction; the pipeline only sees validated rows.
type Source interface {
	Fetch(ctx context.Context) ([]catalog.ObservedListing, error)
}

// FileSource reads an observation batch from the CSV snapshot the scraping
// stage writes at the end of its run.
type FileSource struct {
	path   string
	logger zerolog.Logger
}

// NewFileSource constructs a CSV-backed observation source.
func NewFileSource(path string, logger zerolog.Logger) *FileSource {
	return &FileSource{
		path:   path,
		logger: logger.With().Str("component", "source").Logger(),
	}
}

// Fetch loads and decodes the feed file. Malformed rows are logged and
// skipped; the remaining batch is returned.
func (s *FileSource) Fetch(ctx context.Context) ([]catalog.ObservedListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", s.path, err)
	}
	defer f.Close()

	items, err := decodeFeed(f, s.logger)
	if err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", s.path, err)
	}

	s.logger.Info().Int("items", len(items)).Str("path", s.path).Msg("observation feed loaded")
	return items, nil
}

// feed columns in file order.
var feedHeader = []string{
	"category", "seller", "brand", "model", "color",
	"ram", "rom", "price", "image_url", "url",
	"product_code", "rating", "rating_count", "bonus",
}

func decodeFeed(r io.Reader, logger zerolog.Logger) ([]catalog.ObservedListing, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(feedHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, want := range feedHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return nil, fmt.Errorf("unexpected column %q at position %d, want %q", header[i], i, want)
		}
	}

	items := make([]catalog.ObservedListing, 0)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("skipping malformed feed row")
			continue
		}

		item, err := decodeRow(record)
		if err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("skipping undecodable feed row")
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func decodeRow(record []string) (catalog.ObservedListing, error) {
	ram, err := parseInt(record[5], "ram")
	if err != nil {
		return catalog.ObservedListing{}, err
	}
	rom, err := parseInt(record[6], "rom")
	if err != nil {
		return catalog.ObservedListing{}, err
	}
	price, err := parseInt64(record[7], "price")
	if err != nil {
		return catalog.ObservedListing{}, err
	}
	ratingCount, err := parseInt(record[12], "rating_count")
	if err != nil {
		return catalog.ObservedListing{}, err
	}
	bonus, err := parseInt64(record[13], "bonus")
	if err != nil {
		return catalog.ObservedListing{}, err
	}

	rating := 0.0
	if v := strings.TrimSpace(record[11]); v != "" {
		rating, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return catalog.ObservedListing{}, fmt.Errorf("parse rating %q: %w", record[11], err)
		}
	}

	return catalog.ObservedListing{
		Category:    strings.TrimSpace(record[0]),
		Seller:      strings.TrimSpace(record[1]),
		Brand:       strings.TrimSpace(record[2]),
		Model:       strings.TrimSpace(record[3]),
		Color:       strings.TrimSpace(record[4]),
		RAM:         ram,
		ROM:         rom,
		Price:       price,
		ImageURL:    strings.TrimSpace(record[8]),
		URL:         strings.TrimSpace(record[9]),
		ProductCode: strings.TrimSpace(record[10]),
		Rating:      rating,
		RatingCount: ratingCount,
		Bonus:       bonus,
	}, nil
}

func parseInt(v, field string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, v, err)
	}
	return n, nil
}

func parseInt64(v, field string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, v, err)
	}
	return n, nil
}

var _ Source = (*FileSource)(nil)
