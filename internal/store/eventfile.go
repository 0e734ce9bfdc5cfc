package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"dayplanner/internal/fsutil"
	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

type eventDoc struct {
	Events []model.Event `yaml:"events"`
}

// EventFile is an EventStore kept in a single YAML file. The file is read
// on every call and rewritten atomically on every mutation, so edits made
// by hand between calls are picked up.
type EventFile struct {
	mu   sync.Mutex
	path string
}

func NewEventFile(path string) *EventFile {
	return &EventFile{path: path}
}

func (f *EventFile) Path() string { return f.path }

func (f *EventFile) List(_ context.Context) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *EventFile) Get(_ context.Context, id string) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events, err := f.read()
	if err != nil {
		return model.Event{}, err
	}
	i := index(events, id)
	if i < 0 {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return events[i], nil
}

func (f *EventFile) UpdateTimes(_ context.Context, id string, start, end timecoord.TimeOfDay) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events, err := f.read()
	if err != nil {
		return model.Event{}, err
	}
	i := index(events, id)
	if i < 0 {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	moved := events[i].WithTimes(start, end)
	if err := moved.Validate(); err != nil {
		return model.Event{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	events[i] = moved
	if err := f.write(events); err != nil {
		return model.Event{}, err
	}
	return moved, nil
}

func (f *EventFile) MarkCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	events, err := f.read()
	if err != nil {
		return err
	}
	i := index(events, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if events[i].Status == model.StatusCompleted {
		return nil
	}
	events[i].Status = model.StatusCompleted
	return f.write(events)
}

// Upsert inserts or replaces events by id. Nothing is written if any event
// fails validation.
func (f *EventFile) Upsert(_ context.Context, in ...model.Event) error {
	for _, ev := range in {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	events, err := f.read()
	if err != nil {
		return err
	}
	for _, ev := range in {
		if i := index(events, ev.ID); i >= 0 {
			events[i] = ev
		} else {
			events = append(events, ev)
		}
	}
	return f.write(events)
}

func (f *EventFile) ReplaceSource(_ context.Context, source string, in []model.Event) error {
	for _, ev := range in {
		if !FromSource(ev.ID, source) {
			return fmt.Errorf("%w: %s does not belong to source %s", ErrInvalid, ev.ID, source)
		}
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	events, err := f.read()
	if err != nil {
		return err
	}

	completed := make(map[string]bool)
	kept := events[:0]
	for _, ev := range events {
		if FromSource(ev.ID, source) {
			completed[ev.ID] = ev.Status == model.StatusCompleted
			continue
		}
		kept = append(kept, ev)
	}
	for _, ev := range in {
		if completed[ev.ID] {
			ev.Status = model.StatusCompleted
		}
		kept = append(kept, ev)
	}
	return f.write(kept)
}

func (f *EventFile) read() ([]model.Event, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc eventDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	return doc.Events, nil
}

func (f *EventFile) write(events []model.Event) error {
	data, err := yaml.Marshal(eventDoc{Events: events})
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(f.path, data, 0o600)
}

func index(events []model.Event, id string) int {
	return slices.IndexFunc(events, func(ev model.Event) bool { return ev.ID == id })
}
