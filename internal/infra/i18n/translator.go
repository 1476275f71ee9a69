// Package i18n loads the message catalogs used for owner notifications.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

const DefaultLang = "en"

type Translator struct {
	lang     string
	messages map[string]string
}

// NewTranslator reads locales/<lang>.yaml from fsys.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	if lang == "" {
		lang = DefaultLang
	}
	file := path.Join("locales", lang+".yaml")
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", file, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", file, err)
	}
	t.lang = lang
	return t, nil
}

// Load returns the built-in catalog for lang.
func Load(lang string) (*Translator, error) {
	return NewTranslator(LocalesFS, lang)
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var messages map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return &Translator{messages: messages}, nil
}

func (t *Translator) Lang() string { return t.lang }

// T formats the message for key with args. Unknown keys are returned as is.
func (t *Translator) T(key string, args ...any) string {
	format, ok := t.messages[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
