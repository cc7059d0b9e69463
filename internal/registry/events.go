package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventKind names a notification emitted by a mutating operation.
type EventKind string

const (
	EventFileCreated   EventKind = "file_created"
	EventAccessGranted EventKind = "access_granted"
	EventFeeChanged    EventKind = "fee_changed"
	EventOwnerChanged  EventKind = "owner_changed"
	EventFeesWithdrawn EventKind = "fees_withdrawn"
)

// Fee parameter names carried by EventFeeChanged.
const (
	ParamBaseFee            = "base_fee"
	ParamBytesFeeMultiplier = "bytes_fee_multiplier"
	ParamGrantFee           = "grant_fee"
)

// Event is one entry of the notification stream. Events carry no authority;
// they mirror what a committed operation did.
type Event struct {
	Index     uint64    `json:"index"`
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Sequence  uint64    `json:"sequence"`
	Time      int64     `json:"time"`
	Actor     Identity  `json:"actor,omitempty"`
	Subject   Identity  `json:"subject,omitempty"`
	FileIndex *uint64   `json:"file_index,omitempty"`
	Param     string    `json:"param,omitempty"`
	OldValue  uint64    `json:"old_value,omitempty"`
	NewValue  uint64    `json:"new_value,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
}

// EventLog is the append-only notification stream with in-process fan-out.
type EventLog struct {
	mu      sync.RWMutex
	events  []Event
	subs    map[int]chan Event
	nextSub int
	log     *logrus.Entry
}

func newEventLog(log *logrus.Entry, history []Event) *EventLog {
	return &EventLog{
		events: history,
		subs:   make(map[int]chan Event),
		log:    log,
	}
}

// Len returns the number of events recorded so far.
func (l *EventLog) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// Since returns a copy of every event with Index >= from.
func (l *EventLog) Since(from uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from >= uint64(len(l.events)) {
		return []Event{}
	}
	return append([]Event(nil), l.events[from:]...)
}

// Subscribe registers a listener for events appended after the call. A
// subscriber that falls more than buffer events behind misses events. The
// returned cancel func closes the channel.
func (l *EventLog) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// stage builds the next event without recording it. offset is the number of
// events already staged by the same operation.
func (l *EventLog) stage(offset int, kind EventKind, seq uint64, at int64) Event {
	return Event{
		Index:    l.Len() + uint64(offset),
		ID:       uuid.New().String(),
		Kind:     kind,
		Sequence: seq,
		Time:     at,
	}
}

// publish records committed events and fans them out.
func (l *EventLog) publish(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
	for _, ev := range events {
		for id, ch := range l.subs {
			select {
			case ch <- ev:
			default:
				l.log.WithFields(logrus.Fields{
					"subscriber": id,
					"event":      ev.Index,
				}).Warn("subscriber too slow, dropping event")
			}
		}
	}
}
