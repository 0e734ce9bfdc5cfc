package notify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"dayplanner/internal/fsutil"
	appLog "dayplanner/internal/log"
	"dayplanner/internal/model"
)

const (
	spoolProdID = "-//dayplanner//reminder spool//EN"

	propEventID    = "X-DAYPLANNER-EVENT-ID"
	propOccurrence = "X-DAYPLANNER-OCCURRENCE"
	propKind       = "X-DAYPLANNER-KIND"
	propActions    = "X-DAYPLANNER-ACTIONS"
)

// Spool is a Memory queue persisted to an iCalendar file after every
// mutation, one VEVENT per reminder with DTSTART at the trigger instant.
type Spool struct {
	*Memory
	path string
}

// OpenSpool loads the queue at path, starting empty if the file does not
// exist yet.
func OpenSpool(path string) (*Spool, error) {
	if path == "" {
		return nil, errors.New("notify: spool path is empty")
	}
	s := &Spool{Memory: NewMemory(), path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		records, err := decodeSpool(data)
		if err != nil {
			return nil, fmt.Errorf("notify: read spool %s: %w", path, err)
		}
		for _, r := range records {
			s.records[r.NotificationID] = r
		}
		appLog.Info("reminder spool loaded", "path", path, "count", len(records))
	}

	s.onChange = s.save
	return s, nil
}

func (s *Spool) Path() string { return s.path }

func (s *Spool) save(records []model.ReminderRecord) error {
	data, err := encodeSpool(records, time.Now())
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, data, 0o600)
}

func encodeSpool(records []model.ReminderRecord, stamp time.Time) ([]byte, error) {
	// A VCALENDAR needs at least one component; an empty queue is an
	// empty file.
	if len(records) == 0 {
		return nil, nil
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, spoolProdID)

	for _, r := range records {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, r.NotificationID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, r.TriggerInstant.UTC())
		ev.Props.SetText(ical.PropSummary, r.Content.Title)
		if r.Content.Body != "" {
			ev.Props.SetText(ical.PropDescription, r.Content.Body)
		}
		ev.Props.SetText(propEventID, r.EventID)
		ev.Props.SetText(propOccurrence, r.Content.Payload.OccurrenceDate.String())
		ev.Props.SetText(propKind, string(r.Content.Payload.Kind))
		if len(r.Content.Actions) > 0 {
			ev.Props.SetText(propActions, strings.Join(r.Content.Actions, " "))
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSpool(data []byte) ([]model.ReminderRecord, error) {
	dec := ical.NewDecoder(bytes.NewReader(data))
	var out []model.ReminderRecord
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, ev := range cal.Events() {
			rec, err := decodeReminder(ev)
			if err != nil {
				// Skip the broken entry, keep the rest of the queue.
				appLog.Error("reminder spool: skipping entry", err)
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func decodeReminder(ev ical.Event) (model.ReminderRecord, error) {
	var rec model.ReminderRecord

	id, err := ev.Props.Text(ical.PropUID)
	if err != nil || id == "" {
		return rec, errors.New("missing UID")
	}
	trigger, err := ev.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	if err != nil {
		return rec, fmt.Errorf("reminder %s: %w", id, err)
	}
	eventID, _ := ev.Props.Text(propEventID)
	title, _ := ev.Props.Text(ical.PropSummary)
	body, _ := ev.Props.Text(ical.PropDescription)
	kind, _ := ev.Props.Text(propKind)
	actions, _ := ev.Props.Text(propActions)

	var occ model.Date
	if s, _ := ev.Props.Text(propOccurrence); s != "" {
		if occ, err = model.ParseDate(s); err != nil {
			return rec, fmt.Errorf("reminder %s: %w", id, err)
		}
	}

	rec = model.ReminderRecord{
		NotificationID: id,
		EventID:        eventID,
		TriggerInstant: trigger.Local(),
		Content: model.ReminderContent{
			Title: title,
			Body:  body,
			Payload: model.ReminderPayload{
				EventID:        eventID,
				OccurrenceDate: occ,
				Kind:           model.ReminderKind(kind),
			},
			Actions: strings.Fields(actions),
		},
	}
	return rec, nil
}
