// Package i18n renders user-facing messages for domain error codes.
package i18n

import (
	"bytes"
	"maps"
	"strings"
	"sync"
	"text/template"

	i18ncatalog "github.com/louisbranch/reviewdesk/internal/platform/i18n/catalog"
)

const namespace = "errors"

// Code is the string form of an errors.Code.
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale    string
	messages  map[Code]string
	templates sync.Map
}

var catalogs sync.Map

// GetCatalog returns the error catalog for the supported locale closest to
// locale. Codes missing from a partial translation use the base copy.
func GetCatalog(locale string) *Catalog {
	resolved := i18ncatalog.Default().Match(locale)
	if cached, ok := catalogs.Load(resolved); ok {
		return cached.(*Catalog)
	}
	messages := i18ncatalog.Default().NamespaceMessages(i18ncatalog.BaseLocale, namespace)
	if resolved != i18ncatalog.BaseLocale {
		maps.Copy(messages, i18ncatalog.Default().NamespaceMessages(resolved, namespace))
	}
	cached, _ := catalogs.LoadOrStore(resolved, NewCatalog(resolved, messages))
	return cached.(*Catalog)
}

// ForAcceptLanguage returns the catalog negotiated from an HTTP
// Accept-Language header.
func ForAcceptLanguage(header string) *Catalog {
	return GetCatalog(strings.TrimSpace(header))
}

// NewCatalog creates a catalog with the given locale and messages.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	return &Catalog{locale: locale, messages: maps.Clone(messages)}
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template for code with metadata. Unknown codes
// render as the code itself and broken templates render verbatim.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	raw, ok := c.messages[code]
	if !ok {
		return code
	}
	tmpl, err := c.template(code, raw)
	if err != nil {
		return raw
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, metadata); err != nil {
		return raw
	}
	return buf.String()
}

func (c *Catalog) template(code Code, raw string) (*template.Template, error) {
	if cached, ok := c.templates.Load(code); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := template.New(code).Option("missingkey=zero").Parse(raw)
	if err != nil {
		return nil, err
	}
	c.templates.Store(code, tmpl)
	return tmpl, nil
}
