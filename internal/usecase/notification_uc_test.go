//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/i18n"
	"defect-inspection/internal/usecase"
)

func mustCatalog(t *testing.T, lang string) *i18n.Translator {
	t.Helper()
	tr, err := i18n.Load(lang)
	if err != nil {
		t.Fatalf("load %s catalog: %v", lang, err)
	}
	return tr
}

func TestNotificationUseCase_HandleEvent(t *testing.T) {
	ctx := context.Background()
	testLogger := newTestLogger()
	en := mustCatalog(t, "en")

	t.Run("completed events carry the summary", func(t *testing.T) {
		notifier := &MockNotifier{}
		uc := usecase.NewNotificationUseCase(notifier, en, testLogger)

		sent, err := uc.HandleEvent(ctx, model.Event{
			Kind:    model.EventCompleted,
			JobID:   "j1",
			OwnerID: "42",
			Summary: &model.BatchSummary{
				AnalyzedFiles:         3,
				PassedFiles:           1,
				FailedFiles:           1,
				ReviewFiles:           1,
				ProcessingFailedFiles: 1,
				TotalDetections:       2,
				DetectionsBySeverity:  map[model.Severity]int{model.SeverityCritical: 1},
				QualityScore:          23.3,
			},
		})
		if err != nil || !sent {
			t.Fatalf("expected a message to be sent, got sent=%v err=%v", sent, err)
		}
		if len(notifier.Sent) != 1 || notifier.Sent[0].OwnerID != "42" {
			t.Fatalf("unexpected messages: %+v", notifier.Sent)
		}
		text := notifier.Sent[0].Text
		for _, want := range []string{"j1 completed", "1 passed", "1 could not be processed", "(1 critical)", "23.3"} {
			if !strings.Contains(text, want) {
				t.Errorf("message %q missing %q", text, want)
			}
		}
	})

	t.Run("progress events and ownerless jobs are ignored", func(t *testing.T) {
		notifier := &MockNotifier{}
		uc := usecase.NewNotificationUseCase(notifier, en, testLogger)

		for _, e := range []model.Event{
			{Kind: model.EventProgress, JobID: "j1", OwnerID: "42"},
			{Kind: model.EventFailed, JobID: "j1"},
		} {
			sent, err := uc.HandleEvent(ctx, e)
			if err != nil || sent {
				t.Fatalf("expected %s to be ignored, got sent=%v err=%v", e.Kind, sent, err)
			}
		}
		if len(notifier.Sent) != 0 {
			t.Fatalf("expected no messages, got %d", len(notifier.Sent))
		}
	})

	t.Run("notifier errors are returned", func(t *testing.T) {
		notifier := &MockNotifier{NotifyFunc: func(context.Context, string, string) error { return errors.New("chat not found") }}
		uc := usecase.NewNotificationUseCase(notifier, en, testLogger)

		sent, err := uc.HandleEvent(ctx, model.Event{Kind: model.EventFailed, JobID: "j1", OwnerID: "42", Error: "infrastructure: store down"})
		if err == nil || sent {
			t.Fatalf("expected the notifier error, got sent=%v err=%v", sent, err)
		}
	})
}

func TestFormatEvent(t *testing.T) {
	en := mustCatalog(t, "en")
	text, ok := usecase.FormatEvent(en, model.Event{Kind: model.EventFailed, JobID: "j9", Error: "store down"})
	if !ok || text != "Inspection j9 failed: store down" {
		t.Fatalf("unexpected failure text %q", text)
	}
	text, ok = usecase.FormatEvent(en, model.Event{Kind: model.EventFailed, JobID: "j9"})
	if !ok || text != "Inspection j9 failed" {
		t.Fatalf("unexpected bare failure text %q", text)
	}
	text, ok = usecase.FormatEvent(en, model.Event{Kind: model.EventCancelled, JobID: "j9"})
	if !ok || text != "Inspection j9 was cancelled." {
		t.Fatalf("unexpected cancel text %q", text)
	}
	if _, ok := usecase.FormatEvent(en, model.Event{Kind: model.EventProgress}); ok {
		t.Fatal("progress events should not be formatted")
	}

	fa := mustCatalog(t, "fa")
	text, _ = usecase.FormatEvent(fa, model.Event{Kind: model.EventCancelled, JobID: "j9"})
	if text != "بازرسی j9 لغو شد." {
		t.Fatalf("unexpected fa cancel text %q", text)
	}
}
