package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub(nil, nil)
	sub := hub.Subscribe("t1")
	other := hub.Subscribe("t2")
	defer other.Close()

	hub.Publish("t1", Event{Type: EventDelta, Answer: "Hel"})
	hub.Publish("t1", Event{Type: EventDone, Answer: "Hello"})

	assert.Equal(t, "Hel", (<-sub.C()).Answer)
	ev := <-sub.C()
	assert.True(t, ev.Terminal())
	assert.Empty(t, other.C())

	assert.Equal(t, 1, hub.Subscribers("t1"))
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers("t1"))

	_, open := <-sub.C()
	assert.False(t, open)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	hub := NewHub(nil, nil)
	sub := hub.Subscribe("t1")
	defer sub.Close()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish("t1", Event{Type: EventDelta, ChatIndex: i})
	}
	hub.Publish("t1", Event{Type: EventDone})

	var last Event
	for i := 0; i < subscriberBuffer; i++ {
		last = <-sub.C()
	}
	assert.Equal(t, EventDone, last.Type)
}

func TestServeWS(t *testing.T) {
	hub := NewHub(nil, func(*http.Request) bool { return true })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "t1", func() *Event { return &Event{Type: EventDelta, Answer: "so far"} })
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "so far", ev.Answer)

	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish("t1", Event{Type: EventDone, ChatIndex: 2, Answer: "so far, done"})

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, Event{Type: EventDone, ChatIndex: 2, Answer: "so far, done"}, ev)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeWS_InitialAfterSubscribe(t *testing.T) {
	hub := NewHub(nil, func(*http.Request) bool { return true })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "t1", func() *Event {
			// Published while the snapshot is taken; the subscriber must get it.
			hub.Publish("t1", Event{Type: EventDone, Answer: "finished"})
			return &Event{Type: EventDelta, Answer: "almost"}
		})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, Event{Type: EventDelta, Answer: "almost"}, ev)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, Event{Type: EventDone, Answer: "finished"}, ev)
}

func TestServeWS_NilInitialSendsNothing(t *testing.T) {
	hub := NewHub(nil, func(*http.Request) bool { return true })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "t1", func() *Event { return nil })
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish("t1", Event{Type: EventDone, ChatIndex: 1, Answer: "a"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, Event{Type: EventDone, ChatIndex: 1, Answer: "a"}, ev)
}
