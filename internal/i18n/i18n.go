package i18n

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/swingbuddy/swingbuddy/resources"
)

// English strings double as keys; other languages are looked up in the
// embedded i18n/<lang>.yml tables.
var state = struct {
	mu              sync.RWMutex
	translations    map[string]map[string]string
	loaded          map[string]bool
	defaultLanguage string
}{
	translations:    make(map[string]map[string]string),
	loaded:          make(map[string]bool),
	defaultLanguage: "en",
}

// SetDefaultLanguage installs the configured fallback language. Call once
// at boot.
func SetDefaultLanguage(lang string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.defaultLanguage = lang
}

func load(lang string) {
	data, err := resources.FS.ReadFile(fmt.Sprintf("i18n/%s.yml", lang))
	if err != nil {
		log.WithError(err).WithField("language", lang).Errorln("cant load i18n")
		return
	}
	translations := make(map[string]string)
	if err := yaml.Unmarshal(data, &translations); err != nil {
		log.WithError(err).WithField("language", lang).Errorln("cant unmarshal i18n")
		return
	}
	state.translations[lang] = translations
}

// Get translates key into lang, falling back to the key itself.
func Get(key, lang string) string {
	if lang == "" {
		state.mu.RLock()
		lang = state.defaultLanguage
		state.mu.RUnlock()
	}
	if lang == "en" {
		return key
	}
	state.mu.Lock()
	if !state.loaded[lang] {
		load(lang)
		state.loaded[lang] = true
	}
	res, ok := state.translations[lang][key]
	state.mu.Unlock()
	if ok && res != "" {
		return res
	}
	log.Tracef("no %s translation for key %q", lang, key)
	return key
}
