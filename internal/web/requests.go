package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/core"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/render"
	"github.com/go-playground/validator/v10"
)

// maxJSONBody bounds JSON request bodies that carry rows.
const maxJSONBody = 8 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type slugBody struct {
	Column   string         `json:"column" validate:"max=200"`
	ParentID content.PageID `json:"parent_id" validate:"gte=0"`
}

type metaBody struct {
	ImportTitle       bool `json:"import_title"`
	ImportDescription bool `json:"import_description"`
}

// batchBody holds the fields shared by generate, job and preview requests.
// Row and mapping counts are checked by the service so that an empty batch
// reports INP001 rather than a validation failure.
type batchBody struct {
	TemplateID content.PageID    `json:"template_id"`
	Mapping    map[string]string `json:"mapping" validate:"dive,keys,required,max=200,endkeys,max=200"`
	Slug       slugBody          `json:"slug"`
	Meta       metaBody          `json:"meta"`
}

// mapping drops entries whose column is blank; the form sends those for
// placeholders the user left unmapped.
func (b batchBody) mapping() render.Mapping {
	m := make(render.Mapping, len(b.Mapping))
	for name, col := range b.Mapping {
		if strings.TrimSpace(col) != "" {
			m[name] = col
		}
	}
	return m
}

func (b batchBody) slug() generate.SlugSettings {
	return generate.SlugSettings{Column: b.Slug.Column, ParentID: b.Slug.ParentID}
}

func (b batchBody) meta() generate.MetaSettings {
	return generate.MetaSettings{
		ImportTitle:       b.Meta.ImportTitle,
		ImportDescription: b.Meta.ImportDescription,
	}
}

// GenerateBody is the body of POST /api/generate: one chunk of rows.
type GenerateBody struct {
	batchBody
	Rows   []csvtable.Row `json:"rows"`
	Source string         `json:"source" validate:"max=255"`
}

func (b GenerateBody) request() core.GenerateRequest {
	return core.GenerateRequest{
		TemplateID: b.TemplateID,
		Mapping:    b.mapping(),
		Rows:       b.Rows,
		Slug:       b.slug(),
		Meta:       b.meta(),
		Source:     b.Source,
	}
}

// JobBody is the "request" form field of POST /api/jobs. Rows come from the
// uploaded file.
type JobBody struct {
	batchBody
	Delimiter string `json:"delimiter" validate:"max=3"`
}

// PreviewBody is the body of POST /api/preview.
type PreviewBody struct {
	batchBody
	Row csvtable.Row `json:"row" validate:"required"`
}

func (b PreviewBody) request() core.PreviewRequest {
	return core.PreviewRequest{
		TemplateID: b.TemplateID,
		Mapping:    b.mapping(),
		Row:        b.Row,
		Slug:       b.slug(),
		Meta:       b.meta(),
	}
}

// decodeJSON reads a JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body exceeds %d bytes", csvtable.ErrFileTooLarge, maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", core.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: malformed JSON: %v", core.ErrInvalidRequest, err)
	}
	return validateStruct(v)
}

// decodeJSONString decodes and validates a JSON form value.
func decodeJSONString(s string, v any) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: request field is required", core.ErrInvalidRequest)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", core.ErrInvalidRequest, err)
	}
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", core.ErrInvalidRequest, strings.Join(msgs, "; "))
}
