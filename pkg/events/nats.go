// Пакет events публикует и разбирает события списка заказов, передаваемые через NATS
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"OrderListService/internal/model"
)

// HeaderEventType: заголовок с типом события, по нему подписчик может фильтровать без разбора тела
const HeaderEventType = "Event-Type"

// Conn: минимальный интерфейс NATS-подключения, *nats.Conn ему удовлетворяет
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher отправляет события в subject
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher связывает подключение и subject
func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// Publish сериализует событие в JSON и отправляет его.
// Событие описывает уже подтверждённое изменение, поэтому отменённый контекст вызывающего его не отменяет:
// PublishMsg только кладёт сообщение в буфер соединения и не блокируется
func (p *Publisher) Publish(_ context.Context, ev model.OrderListEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Header.Set(HeaderEventType, string(ev.Type))
	// одинаковый id для повторной отправки того же события, JetStream по нему отбрасывает дубликаты
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s-%d-%d", ev.Type, ev.ItemID, ev.EventTime.UnixNano()))
	msg.Data = data
	return p.conn.PublishMsg(msg)
}

// Decode разбирает тело сообщения в событие
func Decode(msg *nats.Msg) (model.OrderListEvent, error) {
	var ev model.OrderListEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		if t := msg.Header.Get(HeaderEventType); t != "" {
			ev.Type = model.EventType(t)
		}
	}
	return ev, nil
}
