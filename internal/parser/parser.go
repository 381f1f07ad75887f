package parser

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"quikbot/internal/models"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
)

// newline is the preferred boundary; space and "" keep oversized lines within the chunk size
var defaultSeparators = []string{"\n", " ", ""}

// Parser turns a directory of PDF files into overlapping text chunks.
type Parser struct {
	splitter textsplitter.TextSplitter
	extract  func(path string) (string, error)
}

func New(chunkSize, chunkOverlap int) *Parser {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 5
		}
	}

	return &Parser{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		),
		extract: parsePDF,
	}
}

// ParseDirectory walks dir recursively and chunks every file ending in ".pdf".
// Other files are skipped. Any unreadable PDF aborts the walk.
func (p *Parser) ParseDirectory(ctx context.Context, dir string) ([]models.Chunk, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}

	var chunks []models.Chunk
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), models.PDFExtension) {
			return nil
		}

		log.Info().Msgf("Reading File: %s", d.Name())
		fileChunks, err := p.ParseFile(path)
		if err != nil {
			return err
		}
		log.Debug().Str("file", path).Int("chunks", len(fileChunks)).Msg("Parsed file")
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ParseFile extracts and chunks a single PDF
func (p *Parser) ParseFile(path string) ([]models.Chunk, error) {
	text, err := p.extract(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	parts, err := p.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", path, err)
	}

	chunks := make([]models.Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content:        part,
			SourceFilename: path,
			ChunkID:        len(chunks) + 1,
		})
	}
	return chunks, nil
}

func (p *Parser) SplitText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return p.splitter.SplitText(text)
}

// parsePDF returns the plain text of all pages joined by newlines
func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(pageText)
	}
	return text.String(), nil
}
