// Пакет events содержит unit-тесты Publisher и Decode
package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"OrderListService/internal/model"
)

// mockConn перехватывает отправленные сообщения
type mockConn struct {
	msgs      []*nats.Msg
	returnErr error
}

func (m *mockConn) PublishMsg(msg *nats.Msg) error {
	m.msgs = append(m.msgs, msg)
	return m.returnErr
}

func sampleEvent() model.OrderListEvent {
	return model.OrderListEvent{
		Type:      model.EventOrdered,
		ItemID:    42,
		SKUID:     "S1",
		PartType:  "filter",
		Quantity:  2,
		Ordered:   true,
		ActorID:   "bob",
		EventTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublish_Success(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisher(conn, "orderlist.events")

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, conn.msgs, 1)
	msg := conn.msgs[0]
	require.Equal(t, "orderlist.events", msg.Subject)
	require.Equal(t, "ordered", msg.Header.Get(HeaderEventType))
	require.NotEmpty(t, msg.Header.Get(nats.MsgIdHdr))

	// тело разбирается обратно в то же событие
	got, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, sampleEvent(), got)
}

func TestPublish_SameEventSameMsgID(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisher(conn, "s")
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Equal(t, conn.msgs[0].Header.Get(nats.MsgIdHdr), conn.msgs[1].Header.Get(nats.MsgIdHdr))
}

func TestPublish_Error(t *testing.T) {
	expErr := errors.New("publish failed")
	p := NewPublisher(&mockConn{returnErr: expErr}, "s")
	err := p.Publish(context.Background(), sampleEvent())
	require.ErrorIs(t, err, expErr)
}

// клиент ушёл после подтверждённой мутации: событие всё равно уходит в журнал
func TestPublish_CanceledContextStillPublishes(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisher(conn, "s")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Publish(ctx, sampleEvent()))
	require.Len(t, conn.msgs, 1)
}

func TestDecode_TypeFromHeader(t *testing.T) {
	msg := nats.NewMsg("s")
	msg.Header.Set(HeaderEventType, "removed")
	msg.Data = []byte(`{"itemId":5}`)
	ev, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, model.EventRemoved, ev.Type)
	require.Equal(t, int64(5), ev.ItemID)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(&nats.Msg{Data: []byte("not json")})
	require.Error(t, err)
}
