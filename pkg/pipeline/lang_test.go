package pipeline

import (
	"context"
	"testing"

	"github.com/pemistahl/lingua-go"
)

func TestLanguageByCode(t *testing.T) {
	if lang, ok := LanguageByCode("da"); !ok || lang != lingua.Danish {
		t.Errorf(`LanguageByCode("da") = %v, %v`, lang, ok)
	}
	if lang, ok := LanguageByCode("DA"); !ok || lang != lingua.Danish {
		t.Errorf(`LanguageByCode("DA") = %v, %v`, lang, ok)
	}
	if _, ok := LanguageByCode("zz"); ok {
		t.Error(`LanguageByCode("zz") resolved`)
	}
}

func TestLanguageFilter(t *testing.T) {
	danish := &Document{ID: "da-doc", Text: "Danmark er et land i Skandinavien, som består af halvøen Jylland " +
		"og flere hundrede øer, hvoraf de største er Sjælland og Fyn. Hovedstaden København ligger på Sjælland, " +
		"og byen er kendt for sine kanaler, cykler og hyggelige caféer. Om sommeren tager mange danskere til " +
		"stranden, mens vinteren ofte byder på regn og blæst over hele landet."}
	english := &Document{ID: "en-doc", Text: "The weather in London has been rather unpredictable this year, " +
		"with long periods of rain followed by sudden bursts of sunshine. Many residents choose to carry an " +
		"umbrella at all times, just in case the clouds decide to open without any warning at all."}

	task := testTask()
	sink := &collector{}
	step := NewLanguageFilter(lingua.Danish, 0)
	err := Run(context.Background(), task, []Step{&sliceSource{docs: []*Document{danish, english}}, step, sink})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.docs) != 1 || sink.docs[0].ID != "da-doc" {
		ids := make([]string, len(sink.docs))
		for i, d := range sink.docs {
			ids[i] = d.ID
		}
		t.Fatalf("kept %v, want only da-doc", ids)
	}
	if sink.docs[0].Metadata["language"] != "da" {
		t.Errorf("language metadata = %v", sink.docs[0].Metadata["language"])
	}

	ss := task.Stats.Step("language_filter")
	if ss.Dropped != 1 || ss.Reasons["not_target_language"] != 1 {
		t.Errorf("drop stats = %d %v", ss.Dropped, ss.Reasons)
	}
}
