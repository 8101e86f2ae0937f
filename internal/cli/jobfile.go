package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/render"
	"gopkg.in/yaml.v3"
)

// JobFile describes a batch on disk:
//
//	template:
//	  id: 12                     # a page in the database, or inline:
//	  title: "Visit {{city}}"
//	  body_file: template.html   # or body: "..."
//	csv: cities.csv
//	delimiter: ","
//	mapping:
//	  city: City
//	slug:
//	  column: City
//	  parent_id: 0
//	meta:
//	  import_title: true
//	batch_size: 10
//
// Relative paths are resolved against the job file's directory.
type JobFile struct {
	Template  TemplateSpec          `yaml:"template"`
	CSV       string                `yaml:"csv"`
	Delimiter string                `yaml:"delimiter"`
	Mapping   map[string]string     `yaml:"mapping"`
	Slug      generate.SlugSettings `yaml:"slug"`
	Meta      generate.MetaSettings `yaml:"meta"`
	BatchSize int                   `yaml:"batch_size"`

	dir string
}

// TemplateSpec names a stored template or carries one inline.
type TemplateSpec struct {
	ID       content.PageID `yaml:"id"`
	Title    string         `yaml:"title"`
	Body     string         `yaml:"body"`
	BodyFile string         `yaml:"body_file"`
}

// Inline reports whether the template is given in the file.
func (t TemplateSpec) Inline() bool {
	return t.ID == 0
}

// LoadJobFile reads and checks a job file.
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	var job JobFile
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	job.dir = filepath.Dir(path)

	if err := job.resolve(); err != nil {
		return nil, fmt.Errorf("job file %s: %w", path, err)
	}
	return &job, nil
}

func (j *JobFile) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(j.dir, p)
}

func (j *JobFile) resolve() error {
	var errs []error

	t := &j.Template
	switch {
	case t.ID < 0:
		errs = append(errs, errors.New("template.id must not be negative"))
	case t.ID > 0 && (t.Title != "" || t.Body != "" || t.BodyFile != ""):
		errs = append(errs, errors.New("template.id cannot be combined with an inline template"))
	case t.Inline() && t.Body != "" && t.BodyFile != "":
		errs = append(errs, errors.New("template.body and template.body_file are mutually exclusive"))
	case t.Inline() && t.BodyFile != "":
		body, err := os.ReadFile(j.path(t.BodyFile))
		if err != nil {
			errs = append(errs, fmt.Errorf("template.body_file: %w", err))
		}
		t.Body = string(body)
	}
	if t.Inline() && strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Body) == "" && t.BodyFile == "" {
		errs = append(errs, errors.New("template needs an id or an inline title/body"))
	}

	if j.CSV == "" {
		errs = append(errs, errors.New("csv is required"))
	}
	if _, ok := csvtable.ParseDelimiter(j.Delimiter); !ok {
		errs = append(errs, fmt.Errorf("unsupported delimiter %q", j.Delimiter))
	}
	if j.BatchSize < 0 {
		errs = append(errs, errors.New("batch_size must not be negative"))
	}

	return errors.Join(errs...)
}

// TemplatePage is the inline template as a page with the given ID.
func (j *JobFile) TemplatePage(id content.PageID) content.Page {
	return content.Page{ID: id, Title: j.Template.Title, Body: j.Template.Body, Status: content.StatusDraft}
}

// RenderMapping returns the mapping without blank columns.
func (j *JobFile) RenderMapping() render.Mapping {
	m := make(render.Mapping, len(j.Mapping))
	for name, col := range j.Mapping {
		if strings.TrimSpace(col) != "" {
			m[name] = col
		}
	}
	return m
}

// ReadTable reads and parses the job's CSV, capped at maxBytes.
func (j *JobFile) ReadTable(maxBytes int64) (csvtable.Table, error) {
	f, err := os.Open(j.path(j.CSV))
	if err != nil {
		return csvtable.Table{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	text, err := csvtable.ReadAll(f, maxBytes)
	if err != nil {
		return csvtable.Table{}, err
	}

	delim, _ := csvtable.ParseDelimiter(j.Delimiter)
	table := csvtable.Parse(text, csvtable.WithDelimiter(delim))
	if len(table.Headers) == 0 {
		return csvtable.Table{}, fmt.Errorf("invalid CSV: %s has no header row", j.CSV)
	}
	return table, nil
}
