package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testTask() *Task {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Task{Rank: 0, World: 1, Log: logrus.NewEntry(logger), Stats: NewStats()}
}

// sliceSource emits a fixed set of documents.
type sliceSource struct {
	docs []*Document
}

func (s *sliceSource) Name() string { return "slice_source" }

func (s *sliceSource) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	ss := task.Stats.Step(s.Name())
	for _, doc := range s.docs {
		ss.Input++
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return nil
}

// collector keeps every document that reaches it.
type collector struct {
	docs []*Document
}

func (c *collector) Name() string { return "collector" }

func (c *collector) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	for doc := range in {
		c.docs = append(c.docs, doc)
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
	}
	return nil
}

// failAfter errors once it has seen more than n documents.
type failAfter struct {
	n int
}

func (f *failAfter) Name() string { return "fail_after" }

func (f *failAfter) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	seen := 0
	for doc := range in {
		seen++
		if seen > f.n {
			return errors.New("boom")
		}
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
	}
	return nil
}

func makeDocs(n int) []*Document {
	docs := make([]*Document, n)
	for i := range docs {
		docs[i] = &Document{ID: fmt.Sprintf("doc-%04d", i), Text: fmt.Sprintf("text %d", i), Source: "test"}
	}
	return docs
}

func TestRunChain(t *testing.T) {
	task := testTask()
	docs := makeDocs(100)
	filter := NewFilterStep("even_only", func(doc *Document) (bool, string) {
		var i int
		fmt.Sscanf(doc.ID, "doc-%04d", &i)
		if i%2 != 0 {
			return false, "odd"
		}
		return true, ""
	})
	sink := &collector{}

	err := Run(context.Background(), task, []Step{&sliceSource{docs: docs}, filter, sink})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.docs) != 50 {
		t.Fatalf("collected %d documents, want 50", len(sink.docs))
	}
	for i, doc := range sink.docs {
		want := fmt.Sprintf("doc-%04d", i*2)
		if doc.ID != want {
			t.Fatalf("doc %d = %s, want %s (order not preserved)", i, doc.ID, want)
		}
	}

	fs := task.Stats.Step("even_only")
	if fs.Input != 100 || fs.Forwarded != 50 || fs.Dropped != 50 {
		t.Errorf("filter stats = %d/%d/%d, want 100/50/50", fs.Input, fs.Forwarded, fs.Dropped)
	}
	if fs.Reasons["odd"] != 50 {
		t.Errorf("drop reason odd = %d, want 50", fs.Reasons["odd"])
	}
}

func TestRunPropagatesError(t *testing.T) {
	task := testTask()
	// Enough documents to fill every channel buffer, so the test also
	// proves a failing step cannot deadlock its producers.
	docs := makeDocs(10000)

	err := Run(context.Background(), task, []Step{&sliceSource{docs: docs}, &failAfter{n: 3}, &collector{}})
	if err == nil {
		t.Fatal("Run() = nil, want error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Run() error = %v, want boom", err)
	}
}

func TestEmitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	full := make(chan *Document)
	if err := Emit(ctx, full, &Document{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Emit() = %v, want context.Canceled", err)
	}
}

func TestNames(t *testing.T) {
	steps := []Step{&sliceSource{}, &collector{}}
	names := Names(steps)
	if len(names) != 2 || names[0] != "slice_source" || names[1] != "collector" {
		t.Fatalf("Names() = %v", names)
	}
}
