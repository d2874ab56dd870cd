package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
)

// Handlers are the callbacks of SubscribeFunc. OnSignal may be nil.
type Handlers struct {
	OnInsert func(models.Message)
	OnDelete func(uuid.UUID)
	OnSignal func(Signal)
}

// SubscribeFunc is the callback form of Subscribe: one goroutine drains
// the subscription and invokes h. The returned function unsubscribes and
// waits for an in-flight callback to return, so no callback runs after it.
// It must not be called from inside a callback.
func (m *Manager) SubscribeFunc(ctx context.Context, key models.ChannelKey, h Handlers) (func(), error) {
	sub, err := m.Subscribe(ctx, key)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case d := <-sub.Events():
				select {
				case <-stop:
					return
				default:
				}
				switch d.Kind {
				case DeliveryInsert:
					if h.OnInsert != nil {
						h.OnInsert(d.Message)
					}
				case DeliveryDelete:
					if h.OnDelete != nil {
						h.OnDelete(d.MessageID)
					}
				}
			case sig := <-sub.Signals():
				if h.OnSignal != nil {
					h.OnSignal(sig)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Unsubscribe()
			close(stop)
		})
		<-done
	}, nil
}
