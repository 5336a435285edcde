// Package events carries payment, probe and budget notifications to an
// observer supplied at construction time.
package events

import (
	"time"

	"github.com/vitwit/x402pay/money"
)

type Type string

const (
	AdapterDetectFailed Type = "adapter_detect_failed"
	AdapterQuoteFailed  Type = "adapter_quote_failed"
	ProtocolDetected    Type = "protocol_detected"
	LateDetection       Type = "late_detection"
	SpendingRecorded    Type = "spending_recorded"
	BudgetWarning       Type = "budget_warning"
	BudgetExceeded      Type = "budget_exceeded"
	DailyReset          Type = "daily_reset"
	PaymentCompleted    Type = "payment_completed"
	PaymentFailed       Type = "payment_failed"
)

// Event is a single notification. Fields not relevant to Type are empty.
type Event struct {
	Type    Type
	Time    time.Time
	URL     string
	Adapter string
	Amount  *money.Money
	Err     error
	Data    interface{}
}

type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
var Nop Observer = ObserverFunc(func(Event) {})

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}

// Channel forwards events to ch without blocking. Events are dropped when ch
// is full so a slow consumer never stalls a probe or a payment.
func Channel(ch chan<- Event) Observer {
	return ObserverFunc(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Multi fans every event out to each observer in order.
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}

// Emit stamps e with the current time when unset and hands it to o.
func Emit(o Observer, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	OrNop(o).Observe(e)
}
