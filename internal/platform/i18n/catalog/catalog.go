// Package catalog loads localized copy catalogs and registers them with
// x/text/message so renderers can resolve keys through a message.Printer.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the source locale every other catalog falls back to.
const BaseLocale = "en-US"

// catalogFile is the YAML shape of locales/<locale>/<namespace>.yaml.
type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

type localeCatalog struct {
	namespaces map[string]map[string]string
	messages   map[string]string
}

// Bundle holds every loaded locale.
type Bundle struct {
	locales map[string]*localeCatalog
}

//go:embed locales/*/*.yaml
var embeddedCatalogFS embed.FS

var defaultBundle = mustLoadAndRegisterEmbedded()

// Default returns the process-wide embedded bundle, already registered.
func Default() *Bundle {
	return defaultBundle
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embeddedCatalogFS)
}

// LoadFromFS loads every locales/*/*.yaml file in catalogFS. Keys must be
// unique per locale across namespaces, and BaseLocale must be present.
func LoadFromFS(catalogFS fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(catalogFS, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	slices.Sort(paths)

	bundle := &Bundle{locales: map[string]*localeCatalog{}}
	for _, filePath := range paths {
		data, err := fs.ReadFile(catalogFS, filePath)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", filePath, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", filePath, err)
		}
		if err := bundle.add(filePath, file); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", filePath, err)
		}
	}
	if !bundle.HasLocale(BaseLocale) {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	return bundle, nil
}

func (b *Bundle) add(filePath string, file catalogFile) error {
	locale := strings.TrimSpace(file.Locale)
	namespace := strings.TrimSpace(file.Namespace)
	wantLocale := path.Base(path.Dir(filePath))
	wantNamespace := strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
	switch {
	case locale != wantLocale:
		return fmt.Errorf("locale %q must match directory %q", locale, wantLocale)
	case namespace != wantNamespace:
		return fmt.Errorf("namespace %q must match file name %q", namespace, wantNamespace)
	case len(file.Messages) == 0:
		return fmt.Errorf("messages map is required")
	}

	entry := b.locales[locale]
	if entry == nil {
		entry = &localeCatalog{namespaces: map[string]map[string]string{}, messages: map[string]string{}}
		b.locales[locale] = entry
	}
	if _, exists := entry.namespaces[namespace]; exists {
		return fmt.Errorf("namespace %q already defined for %s", namespace, locale)
	}

	scoped := make(map[string]string, len(file.Messages))
	for rawKey, value := range file.Messages {
		key := strings.TrimSpace(rawKey)
		if key == "" {
			return fmt.Errorf("message key cannot be blank")
		}
		if _, dup := entry.messages[key]; dup {
			return fmt.Errorf("duplicate key %q in %s", key, locale)
		}
		entry.messages[key] = value
		scoped[key] = value
	}
	entry.namespaces[namespace] = scoped
	return nil
}

// Register installs every message with x/text/message under the locale tag
// and its bare language. Keys a locale lacks take the BaseLocale copy.
func (b *Bundle) Register() error {
	base := b.LocaleMessages(BaseLocale)
	for _, locale := range b.Locales() {
		tag, err := language.Parse(locale)
		if err != nil {
			return fmt.Errorf("parse locale tag %q: %w", locale, err)
		}
		tags := []language.Tag{tag}
		if lang, _ := tag.Base(); lang.String() != "und" {
			if langTag := language.Make(lang.String()); langTag.String() != tag.String() {
				tags = append(tags, langTag)
			}
		}

		merged := maps.Clone(base)
		maps.Copy(merged, b.LocaleMessages(locale))
		for _, key := range slices.Sorted(maps.Keys(merged)) {
			for _, t := range tags {
				if err := message.SetString(t, key, merged[key]); err != nil {
					return fmt.Errorf("register %s %q: %w", locale, key, err)
				}
			}
		}
	}
	return nil
}

// HasLocale reports whether locale has a catalog.
func (b *Bundle) HasLocale(locale string) bool {
	if b == nil {
		return false
	}
	_, ok := b.locales[strings.TrimSpace(locale)]
	return ok
}

// Locales lists the loaded locales in sorted order.
func (b *Bundle) Locales() []string {
	if b == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(b.locales))
}

// LocaleMessages returns a copy of every message for locale.
func (b *Bundle) LocaleMessages(locale string) map[string]string {
	if b == nil || b.locales[strings.TrimSpace(locale)] == nil {
		return map[string]string{}
	}
	return maps.Clone(b.locales[strings.TrimSpace(locale)].messages)
}

// NamespaceMessages returns a copy of one namespace for locale.
func (b *Bundle) NamespaceMessages(locale, namespace string) map[string]string {
	if b == nil || b.locales[strings.TrimSpace(locale)] == nil {
		return map[string]string{}
	}
	messages := b.locales[strings.TrimSpace(locale)].namespaces[strings.TrimSpace(namespace)]
	if messages == nil {
		return map[string]string{}
	}
	return maps.Clone(messages)
}

// Match returns the supported locale closest to preferences, which may be
// BCP 47 tags or a raw Accept-Language header. It falls back to BaseLocale
// when nothing matches.
func (b *Bundle) Match(preferences ...string) string {
	if b == nil {
		return BaseLocale
	}
	supported := []string{BaseLocale}
	for _, locale := range b.Locales() {
		if locale != BaseLocale {
			supported = append(supported, locale)
		}
	}
	tags := make([]language.Tag, len(supported))
	for i, locale := range supported {
		tags[i] = language.Make(locale)
	}
	var wanted []language.Tag
	for _, preference := range preferences {
		parsed, _, err := language.ParseAcceptLanguage(strings.TrimSpace(preference))
		if err != nil {
			continue
		}
		wanted = append(wanted, parsed...)
	}
	if len(wanted) == 0 {
		return BaseLocale
	}
	_, index, confidence := language.NewMatcher(tags).Match(wanted...)
	if confidence == language.No {
		return BaseLocale
	}
	return supported[index]
}

func mustLoadAndRegisterEmbedded() *Bundle {
	bundle, err := LoadEmbedded()
	if err != nil {
		panic(err)
	}
	if err := bundle.Register(); err != nil {
		panic(err)
	}
	return bundle
}
