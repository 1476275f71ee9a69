//go:build !integration

package i18n

import (
	"testing"
	"testing/fstest"
)

func TestTranslator(t *testing.T) {
	translator, err := newTranslatorFromBytes([]byte("greeting: سلام\nwelcome_user: سلام %s"))
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	t.Run("should translate a simple key", func(t *testing.T) {
		if got, want := translator.T("greeting"), "سلام"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got, want := translator.T("nonexistent_key"), "nonexistent_key"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got, want := translator.T("welcome_user", "Ali"), "سلام Ali"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})
}

func TestNewTranslator(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/de.yaml": {Data: []byte("notify.cancelled: \"Prüfung %s abgebrochen.\"")},
		"locales/xx.yaml": {Data: []byte("- not\n- a map")},
	}

	tr, err := NewTranslator(fsys, "de")
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	if tr.Lang() != "de" || tr.T("notify.cancelled", "j1") != "Prüfung j1 abgebrochen." {
		t.Fatalf("unexpected catalog: lang=%s text=%q", tr.Lang(), tr.T("notify.cancelled", "j1"))
	}
	if _, err := NewTranslator(fsys, "it"); err == nil {
		t.Fatal("expected an error for a missing catalog")
	}
	if _, err := NewTranslator(fsys, "xx"); err == nil {
		t.Fatal("expected an error for a malformed catalog")
	}
}

func TestBuiltinCatalogsMatch(t *testing.T) {
	en, err := Load(DefaultLang)
	if err != nil {
		t.Fatalf("load en: %v", err)
	}
	fa, err := Load("fa")
	if err != nil {
		t.Fatalf("load fa: %v", err)
	}
	for key := range en.messages {
		if _, ok := fa.messages[key]; !ok {
			t.Errorf("fa catalog is missing %q", key)
		}
	}
	if len(fa.messages) != len(en.messages) {
		t.Errorf("catalog sizes differ: en=%d fa=%d", len(en.messages), len(fa.messages))
	}
}
