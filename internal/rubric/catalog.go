// Package rubric holds the per-university grading rubrics.
//
// The catalog is embedded as YAML and looked up by slug or by the
// university's Korean name. Keys are compared after NFC normalization so
// decomposed Hangul from some clients still matches.
package rubric

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed universities.yaml
var defaultCatalog []byte

// QuestionPrefix is the canonical prefix of a question key ("문제1").
const QuestionPrefix = "문제"

// Criterion is what graders look for in one question.
type Criterion struct {
	Desc   string  `yaml:"desc" json:"desc"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// University is one school's essay rubric.
type University struct {
	Name        string               `yaml:"name" json:"name"`
	Slug        string               `yaml:"slug" json:"slug"`
	Scale       int                  `yaml:"scale" json:"scale"`
	GradingType string               `yaml:"grading_type" json:"gradingType"`
	Criteria    map[string]Criterion `yaml:"criteria" json:"criteria"`
	Bonus       string               `yaml:"bonus,omitempty" json:"bonus,omitempty"`
}

// Questions returns the question keys in numeric order.
func (u *University) Questions() []string {
	keys := make([]string, 0, len(u.Criteria))
	for k := range u.Criteria {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return questionNumber(keys[i]) < questionNumber(keys[j])
	})
	return keys
}

var questionPattern = regexp.MustCompile(`(?i)^q?(\d+)$`)

// QuestionKey resolves a client-supplied question id ("문제2", "q2", "2")
// to a key of this rubric.
func (u *University) QuestionKey(id string) (string, bool) {
	raw := norm.NFC.String(strings.TrimSpace(id))
	if _, ok := u.Criteria[raw]; ok {
		return raw, true
	}
	if m := questionPattern.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return "", false
		}
		key := QuestionPrefix + strconv.Itoa(n)
		if _, ok := u.Criteria[key]; ok {
			return key, true
		}
	}
	return "", false
}

// Catalog is an immutable, indexed set of rubrics.
type Catalog struct {
	universities []University
	index        map[string]int
}

type catalogFile struct {
	Universities []University `yaml:"universities"`
}

// Load parses a YAML catalog and validates every entry.
func Load(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode rubric catalog: %w", err)
	}

	c := &Catalog{
		universities: make([]University, 0, len(file.Universities)),
		index:        make(map[string]int, 2*len(file.Universities)),
	}
	for _, u := range file.Universities {
		u.Name = norm.NFC.String(strings.TrimSpace(u.Name))
		u.Slug = strings.ToLower(strings.TrimSpace(u.Slug))
		if err := validate(u); err != nil {
			return nil, err
		}

		criteria := make(map[string]Criterion, len(u.Criteria))
		for k, v := range u.Criteria {
			criteria[norm.NFC.String(k)] = v
		}
		u.Criteria = criteria

		for _, key := range []string{u.Slug, u.Name} {
			if _, dup := c.index[key]; dup {
				return nil, fmt.Errorf("rubric catalog: duplicate university key %q", key)
			}
			c.index[key] = len(c.universities)
		}
		c.universities = append(c.universities, u)
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// Find looks a university up by slug or by name.
func (c *Catalog) Find(slugOrName string) (*University, bool) {
	key := norm.NFC.String(strings.TrimSpace(slugOrName))
	i, ok := c.index[key]
	if !ok {
		i, ok = c.index[strings.ToLower(key)]
	}
	if !ok {
		return nil, false
	}
	u := c.universities[i]
	return &u, true
}

// List returns every university in catalog order.
func (c *Catalog) List() []University {
	out := make([]University, len(c.universities))
	copy(out, c.universities)
	return out
}

// Len returns the number of universities.
func (c *Catalog) Len() int {
	return len(c.universities)
}

func validate(u University) error {
	switch {
	case u.Slug == "":
		return fmt.Errorf("rubric catalog: university %q has no slug", u.Name)
	case u.Name == "":
		return fmt.Errorf("rubric catalog: university %q has no name", u.Slug)
	case u.Scale <= 0:
		return fmt.Errorf("rubric catalog: %s: scale must be positive", u.Slug)
	case len(u.Criteria) == 0:
		return fmt.Errorf("rubric catalog: %s: no criteria", u.Slug)
	}
	for k, c := range u.Criteria {
		if c.Desc == "" {
			return fmt.Errorf("rubric catalog: %s/%s: empty description", u.Slug, k)
		}
		if c.Weight < 0 || c.Weight > 100 {
			return fmt.Errorf("rubric catalog: %s/%s: weight out of range", u.Slug, k)
		}
	}
	return nil
}

func questionNumber(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, QuestionPrefix))
	if err != nil {
		return 1 << 30
	}
	return n
}
