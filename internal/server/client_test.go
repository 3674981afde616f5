package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"groupchat/internal/database"
	"groupchat/internal/protocol"
	"groupchat/internal/stats"
	"groupchat/internal/testutil"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan protocol.Message, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(protocol.UnsupportMessage("test"))
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindUnsupportMessage, msg.Kind, "expected queued message to match")
		default:
			t.Error("expected a message to be queued to the client, but none was sent")
		}
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan protocol.Message, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- protocol.Message{} // Pre-fill the send channel to simulate a full channel
		res := c.queueMessage(protocol.UnsupportMessage("test"))
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}

	// stopping twice must not panic
	c.stopClient()
}

func Test_handleMessage_requiresAuthentication(t *testing.T) {
	tcases := []protocol.Message{
		protocol.SubscribeGroup(1),
		protocol.Send(protocol.NewMessage{GroupId: 1, Content: "hi"}),
		protocol.Edit(protocol.MessageContent{GroupId: 1, Content: "hi"}),
		protocol.Delete([]int{1}),
	}

	for _, msg := range tcases {
		t.Run(string(msg.Kind), func(t *testing.T) {
			cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
			c := newTestClient(t, cs)

			c.handleMessage(msg)

			select {
			case resp := <-c.send:
				assert.Equal(t, protocol.KindUnsupportMessage, resp.Kind, "expected UnsupportMessage")
				assert.Equal(t, "authentication required", resp.Description, "expected authentication required description")
			default:
				t.Error("expected a rejection to be queued to the client")
			}
		})
	}
}

func Test_handleMessage_serverKinds(t *testing.T) {
	tcases := []protocol.Message{
		protocol.AuthenticateResponse(protocol.StatusSuccess.Result()),
		protocol.SubscribeGroupResponse(protocol.StatusSuccess.Result()),
		protocol.Receive(protocol.MessageContent{}),
		protocol.UnsupportMessage("test"),
	}

	for _, msg := range tcases {
		t.Run(string(msg.Kind), func(t *testing.T) {
			cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
			c := newTestClient(t, cs)
			c.authenticated = true

			c.handleMessage(msg)

			select {
			case resp := <-c.send:
				assert.Equal(t, protocol.KindUnsupportMessage, resp.Kind, "expected UnsupportMessage")
				assert.Contains(t, resp.Description, "unhandled message kind", "expected unhandled kind description")
			default:
				t.Error("expected a rejection to be queued to the client")
			}
		})
	}
}

func Test_handleAuthenticate(t *testing.T) {
	t.Run("successful authentication", func(t *testing.T) {
		user := database.User{Id: 1, Username: "testuser", UserCode: "usercode"}
		db := &database.MockGroupChatRepository{}
		db.On("GetUserByCode", "usercode").Return(user, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)

		c.handleAuthenticate("usercode")

		assert.True(t, c.authenticated, "expected client to be authenticated")
		assert.Equal(t, user, c.user, "expected user to be set")

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindAuthenticateResponse, msg.Kind, "expected authenticate response")
			assert.Equal(t, protocol.StatusSuccess.Result(), msg.Result, "expected success result")
			assert.Equal(t, 0, msg.Result.StatusCode, "expected status code 0")
		default:
			t.Error("expected authenticate response to be queued")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		cs.verifier = &staticVerifier{err: errors.New("token is expired")}
		c := newTestClient(t, cs)

		c.handleAuthenticate("badtoken")

		assert.False(t, c.authenticated, "expected client to remain unauthenticated")

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindAuthenticateResponse, msg.Kind, "expected authenticate response")
			assert.Equal(t, protocol.StatusExpireOrNotFound.Result(), msg.Result, "expected expire or not found result")
			assert.Equal(t, 4, msg.Result.StatusCode, "expected status code 4")
		default:
			t.Error("expected authenticate response to be queued")
		}
	})

	t.Run("unknown user code", func(t *testing.T) {
		db := &database.MockGroupChatRepository{}
		db.On("GetUserByCode", "missing").Return(database.User{}, errors.New("sql: no rows in result set")).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)

		c.handleAuthenticate("missing")

		assert.False(t, c.authenticated, "expected client to remain unauthenticated")

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindAuthenticateResponse, msg.Kind, "expected authenticate response")
			assert.Equal(t, protocol.StatusOther.Result(), msg.Result, "expected failed user lookup result")
			assert.Equal(t, 5, msg.Result.StatusCode, "expected status code 5")
		default:
			t.Error("expected authenticate response to be queued")
		}
	})

	t.Run("already authenticated", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)
		c.authenticated = true

		c.handleAuthenticate("usercode")

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindUnsupportMessage, msg.Kind, "expected UnsupportMessage")
			assert.Equal(t, "already authenticated", msg.Description, "expected already authenticated description")
		default:
			t.Error("expected a rejection to be queued")
		}
	})
}

func Test_handleSubscribeGroup(t *testing.T) {
	t.Run("successful forward", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)

		c.handleSubscribeGroup(protocol.SubscribeGroup(1))

		select {
		case req := <-cs.subscribeChan:
			assert.Equal(t, c, req.client, "expected request to carry the client")
			assert.Equal(t, 1, req.msg.GroupId, "expected group id to match")
		default:
			t.Error("expected subscribe request to be forwarded to chat server")
		}
	})

	t.Run("subscribe channel full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		cs.subscribeChan = make(chan *clientRequest, 1)
		cs.subscribeChan <- &clientRequest{} // Fill the channel

		c := newTestClient(t, cs)
		c.handleSubscribeGroup(protocol.SubscribeGroup(1))

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindUnsupportMessage, msg.Kind, "expected UnsupportMessage")
			assert.Equal(t, "server busy, try again", msg.Description, "expected busy description")
		default:
			t.Error("expected a busy response to be queued")
		}
	})
}

func Test_handleSend(t *testing.T) {
	t.Run("forwarded to subscribed group", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		g := newTestGroup(t, cs, database.Group{Id: 1})

		c := newTestClient(t, cs)
		c.addGroup(g)

		msg := protocol.Send(protocol.NewMessage{GroupId: 1, Content: "hi"})
		c.handleSend(msg)

		select {
		case req := <-g.requestChan:
			assert.Equal(t, c, req.client, "expected request to carry the client")
			assert.Equal(t, msg, req.msg, "expected message to be forwarded unchanged")
		default:
			t.Error("expected send to be forwarded to group")
		}
	})

	t.Run("rejected when not subscribed", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)

		c.handleSend(protocol.Send(protocol.NewMessage{GroupId: 1, Content: "hi"}))

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindSubscribeGroupResponse, msg.Kind, "expected subscribe response")
			assert.Equal(t, protocol.StatusNoPermission.Result(), msg.Result, "expected no permission result")
		default:
			t.Error("expected rejection to be queued to client")
		}
	})

	t.Run("request channel full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		g := newTestGroup(t, cs, database.Group{Id: 1})
		g.requestChan = make(chan *clientRequest, 1)
		g.requestChan <- &clientRequest{} // Fill the channel

		c := newTestClient(t, cs)
		c.addGroup(g)

		c.handleSend(protocol.Send(protocol.NewMessage{GroupId: 1, Content: "hi"}))

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindUnsupportMessage, msg.Kind, "expected UnsupportMessage")
			assert.Equal(t, "server busy, try again", msg.Description, "expected busy description")
		default:
			t.Error("expected a busy response to be queued")
		}
	})
}

func Test_handleEdit_routing(t *testing.T) {
	t.Run("forwarded to subscribed group", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		g := newTestGroup(t, cs, database.Group{Id: 1})

		c := newTestClient(t, cs)
		c.addGroup(g)

		msg := protocol.Edit(protocol.MessageContent{GroupId: 1, Content: "updated"})
		c.handleEdit(msg)

		select {
		case req := <-g.requestChan:
			assert.Equal(t, msg, req.msg, "expected edit to be forwarded unchanged")
		default:
			t.Error("expected edit to be forwarded to group")
		}
	})

	t.Run("rejected when not subscribed", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)

		c.handleEdit(protocol.Edit(protocol.MessageContent{GroupId: 1, Content: "updated"}))

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindSubscribeGroupResponse, msg.Kind, "expected subscribe response")
			assert.Equal(t, protocol.StatusNoPermission.Result(), msg.Result, "expected no permission result")
		default:
			t.Error("expected rejection to be queued to client")
		}
	})
}

func Test_handleDelete_routing(t *testing.T) {
	t.Run("ids are routed per group", func(t *testing.T) {
		db := &database.MockGroupChatRepository{}
		db.On("GetMessagesByIds", []int{1, 2, 3}).Return([]database.Message{
			{Id: 1, GroupId: 1},
			{Id: 2, GroupId: 2},
			{Id: 3, GroupId: 1},
		}, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		g1 := newTestGroup(t, cs, database.Group{Id: 1})
		g2 := newTestGroup(t, cs, database.Group{Id: 2})

		c := newTestClient(t, cs)
		c.addGroup(g1)
		c.addGroup(g2)

		c.handleDelete(protocol.Delete([]int{1, 2, 3}))

		select {
		case req := <-g1.requestChan:
			assert.Equal(t, protocol.KindDelete, req.msg.Kind, "expected delete request")
			assert.ElementsMatch(t, []int{1, 3}, req.msg.MessageIds, "expected group 1 ids")
		default:
			t.Error("expected delete to be forwarded to group 1")
		}

		select {
		case req := <-g2.requestChan:
			assert.Equal(t, protocol.KindDelete, req.msg.Kind, "expected delete request")
			assert.ElementsMatch(t, []int{2}, req.msg.MessageIds, "expected group 2 ids")
		default:
			t.Error("expected delete to be forwarded to group 2")
		}
	})

	t.Run("rejected when not subscribed to a target group", func(t *testing.T) {
		db := &database.MockGroupChatRepository{}
		db.On("GetMessagesByIds", []int{1, 2}).Return([]database.Message{
			{Id: 1, GroupId: 1},
			{Id: 2, GroupId: 2},
		}, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		g1 := newTestGroup(t, cs, database.Group{Id: 1})

		c := newTestClient(t, cs)
		c.addGroup(g1)

		c.handleDelete(protocol.Delete([]int{1, 2}))

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindSubscribeGroupResponse, msg.Kind, "expected subscribe response")
			assert.Equal(t, protocol.StatusNoPermission.Result(), msg.Result, "expected no permission result")
		default:
			t.Error("expected rejection to be queued to client")
		}

		select {
		case <-g1.requestChan:
			t.Error("expected no delete to be forwarded when the batch is rejected")
		default:
		}
	})

	t.Run("storage error resolving ids", func(t *testing.T) {
		db := &database.MockGroupChatRepository{}
		db.On("GetMessagesByIds", []int{1}).Return([]database.Message{}, errors.New("db error")).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, cs)

		c.handleDelete(protocol.Delete([]int{1}))

		select {
		case msg := <-c.send:
			assert.Equal(t, protocol.KindUnsupportMessage, msg.Kind, "expected UnsupportMessage")
			assert.Equal(t, "failed to delete messages", msg.Description, "expected delete failure description")
		default:
			t.Error("expected failure to be queued to client")
		}
	})
}

func Test_leaveAllGroups(t *testing.T) {
	cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
	groups := []*Group{
		newTestGroup(t, cs, database.Group{Id: 1}),
		newTestGroup(t, cs, database.Group{Id: 2}),
	}

	c := newTestClient(t, cs)
	for _, g := range groups {
		c.addGroup(g)
	}

	c.leaveAllGroups()

	for _, g := range groups {
		select {
		case got := <-g.unsubscribeChan:
			assert.Equal(t, c, got, "expected client to be sent to unsubscribe channel of group %d", g.id)
		default:
			t.Errorf("expected unsubscribe to be sent for group %d", g.id)
		}
	}
}

func Test_addGroup_delGroup_getGroup(t *testing.T) {
	cs := newTestChatServer(t, &database.MockGroupChatRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs)
	g := newTestGroup(t, cs, database.Group{Id: 1})

	c.addGroup(g)
	got := c.getGroup(g.id)
	assert.Equal(t, g, got, "expected group to be found after adding")

	c.delGroup(g.id)
	assert.Nil(t, c.getGroup(g.id), "expected group to be removed after deletion")
}

// newTestSocketPair upgrades a real websocket connection and returns both
// ends of it.
func newTestSocketPair(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade connection: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn = <-connCh
	return serverConn, clientConn
}

func TestRead_authenticationTimeout(t *testing.T) {
	oldAuthWait := authWait
	authWait = 50 * time.Millisecond
	t.Cleanup(func() { authWait = oldAuthWait })

	db := &database.MockGroupChatRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, db, su)
	serverConn, peer := newTestSocketPair(t)

	c := NewClient(serverConn, cs, testutil.TestLogger(t))
	go c.Write()
	go c.Read()

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg protocol.Message
	err := peer.ReadJSON(&msg)
	assert.NoError(t, err, "expected the timeout response to arrive before the close")
	assert.Equal(t, protocol.KindAuthenticateResponse, msg.Kind, "expected an authenticate response")
	assert.Equal(t, 1, msg.Result.StatusCode, "expected timeout status code")
	assert.Equal(t, "Authentication Timeout", msg.Result.Message, "expected timeout status message")

	_, _, err = peer.ReadMessage()
	assert.Error(t, err, "expected the connection to close after the timeout response")
}
