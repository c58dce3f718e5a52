package pipeline

import "context"

// FilterFunc judges a single document. keep=false removes it from the
// stream, with reason recorded in the step stats.
type FilterFunc func(doc *Document) (keep bool, reason string)

// FilterStep applies a FilterFunc to the stream. Dropped documents are
// handed to the exclusion writer when one is attached, so removals stay
// inspectable after the run.
type FilterStep struct {
	name       string
	fn         FilterFunc
	exclusions DocWriter
}

func NewFilterStep(name string, fn FilterFunc) *FilterStep {
	return &FilterStep{name: name, fn: fn}
}

// WithExclusions attaches a sink for dropped documents.
func (f *FilterStep) WithExclusions(w DocWriter) *FilterStep {
	f.exclusions = w
	return f
}

func (f *FilterStep) Name() string { return f.name }

func (f *FilterStep) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) (err error) {
	ss := task.Stats.Step(f.name)
	defer func() {
		if f.exclusions != nil {
			if cerr := f.exclusions.Close(task); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for doc := range in {
		ss.Input++
		keep, reason := f.fn(doc)
		if !keep {
			ss.Drop(reason)
			if f.exclusions != nil {
				if werr := f.exclusions.Write(task, doc); werr != nil {
					return werr
				}
			}
			continue
		}
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return nil
}
