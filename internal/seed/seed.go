package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

// File is the catalog seed document.
type File struct {
	Sweets []Sweet `yaml:"sweets"`
}

type Sweet struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Price    string `yaml:"price"`
	Quantity int    `yaml:"quantity"`
	Image    string `yaml:"image"`
}

// Load reads a seed file from disk.
func Load(path string) ([]domain.NewItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) ([]domain.NewItem, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed file is empty")
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	items := make([]domain.NewItem, 0, len(file.Sweets))
	for i, s := range file.Sweets {
		price, err := decimal.NewFromString(s.Price)
		if err != nil {
			return nil, fmt.Errorf("sweet %d (%s): invalid price %q: %w", i, s.Name, s.Price, err)
		}
		items = append(items, domain.NewItem{
			Name:     s.Name,
			Category: s.Category,
			Price:    price,
			Quantity: s.Quantity,
			Image:    s.Image,
		})
	}
	return items, nil
}
