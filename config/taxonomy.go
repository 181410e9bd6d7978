package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// IgnoreClass marks general categories that are excluded from supervision.
const IgnoreClass = "ignore"

//go:embed taxonomy.json
var defaultTaxonomy []byte

// Taxonomy maps general annotation categories to detection classes. It is immutable once loaded.
type Taxonomy struct {
	mapping map[string]string
}

// LoadTaxonomy reads a JSON object of general category to detection class.
func LoadTaxonomy(r io.Reader) (*Taxonomy, error) {
	mapping := map[string]string{}
	if err := json.NewDecoder(r).Decode(&mapping); err != nil {
		return nil, errors.Wrap(err, "cannot decode taxonomy")
	}
	if len(mapping) == 0 {
		return nil, errors.New("taxonomy is empty")
	}
	return &Taxonomy{mapping: mapping}, nil
}

// LoadTaxonomyFile reads a taxonomy from a JSON file.
func LoadTaxonomyFile(path string) (*Taxonomy, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return LoadTaxonomy(f)
}

// DefaultTaxonomy returns the nuScenes general-to-detection table.
func DefaultTaxonomy() *Taxonomy {
	t, err := LoadTaxonomy(bytes.NewReader(defaultTaxonomy))
	if err != nil {
		panic(err)
	}
	return t
}

// Detection returns the detection class of a general category, which may be IgnoreClass.
// ok is false for categories the taxonomy does not know.
func (t *Taxonomy) Detection(general string) (string, bool) {
	class, ok := t.mapping[general]
	return class, ok
}

// ClassIndex returns the position of the mapped class of general in classes. Unknown
// categories, ignored categories and classes that are not configured report false.
func (t *Taxonomy) ClassIndex(general string, classes []string) (int, bool) {
	class, ok := t.Detection(general)
	if !ok || class == IgnoreClass {
		return 0, false
	}
	for i, c := range classes {
		if c == class {
			return i, true
		}
	}
	return 0, false
}

// Categories lists the general categories in sorted order.
func (t *Taxonomy) Categories() []string {
	out := make([]string, 0, len(t.mapping))
	for k := range t.mapping {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
