package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

const DefaultLocale = "en"

type Translator struct {
	lang         string
	translations map[string]string
	fallback     *Translator
}

// NewTranslator loads locales/<lang>.yaml from fsys. Keys missing in lang fall back to English.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	if lang == "" {
		lang = DefaultLocale
	}
	t, err := load(fsys, lang)
	if err != nil {
		return nil, err
	}
	if lang != DefaultLocale {
		if fb, err := load(fsys, DefaultLocale); err == nil {
			t.fallback = fb
		}
	}
	return t, nil
}

func load(fsys fs.FS, lang string) (*Translator, error) {
	p := path.Join("locales", lang+".yaml")
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", p, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = lang
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

func (t *Translator) Lang() string { return t.lang }

func (t *Translator) lookup(key string) (string, bool) {
	if s, ok := t.translations[key]; ok {
		return s, true
	}
	if t.fallback != nil {
		return t.fallback.lookup(key)
	}
	return "", false
}

// T returns the message for key, formatted with args. Unknown keys come back as is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.lookup(key)
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Render substitutes {name} placeholders from vars.
func (t *Translator) Render(key string, vars map[string]string) string {
	s, ok := t.lookup(key)
	if !ok {
		return key
	}
	if len(vars) == 0 {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
