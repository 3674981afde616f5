package server

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"groupchat/internal/database"
	"groupchat/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// authWait bounds how long a connection may stay unauthenticated;
// variable so tests can shorten the window.
var authWait = 30 * time.Second

// Client is one websocket connection. It starts unauthenticated, becomes
// authenticated after a successful Authenticate exchange, and from there
// may subscribe to any number of groups.
type Client struct {
	conn          *websocket.Conn
	cs            *ChatServer
	log           *log.Logger
	user          database.User
	authenticated bool
	send          chan protocol.Message
	groups        map[int]*Group
	groupsLock    sync.RWMutex
	stop          chan struct{}
	stopOnce      sync.Once
	// writeDone is closed when the write pump has exited, meaning any
	// final queued responses have been flushed
	writeDone chan struct{}
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:   conn,
		cs:     cs,
		log:    l,
		send:      make(chan protocol.Message, 256),
		groups:    make(map[int]*Group),
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.drainSend()
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, raw, err := c.conn.ReadMessage()
		if err != nil {
			// an unauthenticated connection that never sent its token
			// is told why before the connection drops; the write pump
			// must flush the response before the deferred close
			var netErr net.Error
			if !c.authenticated && errors.As(err, &netErr) && netErr.Timeout() {
				c.queueMessage(protocol.AuthenticateResponse(protocol.StatusTimeout.Result()))
				c.stopClient()
				<-c.writeDone
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		if mt != websocket.TextMessage {
			c.queueMessage(protocol.AuthenticateResponse(protocol.StatusUnsupportedMessageType.Result()))
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.queueMessage(protocol.UnsupportMessage("malformed message: " + err.Error()))
			continue
		}

		c.handleMessage(msg)

		// once authenticated, the connection is kept alive by pongs
		if c.authenticated {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// handleMessage dispatches one inbound protocol message. The switch is
// exhaustive over the union: every variant either has a handler or is
// answered with UnsupportMessage, and everything but Authenticate
// requires an authenticated connection.
func (c *Client) handleMessage(msg protocol.Message) {
	if msg.Kind != protocol.KindAuthenticate && !c.authenticated {
		c.queueMessage(protocol.UnsupportMessage("authentication required"))
		return
	}

	switch msg.Kind {
	case protocol.KindAuthenticate:
		c.handleAuthenticate(msg.Token)
	case protocol.KindSubscribeGroup:
		c.handleSubscribeGroup(msg)
	case protocol.KindSend:
		c.handleSend(msg)
	case protocol.KindEdit:
		c.handleEdit(msg)
	case protocol.KindDelete:
		c.handleDelete(msg)
	case protocol.KindAuthenticateResponse,
		protocol.KindSubscribeGroupResponse,
		protocol.KindReceive,
		protocol.KindUnsupportMessage:
		// server-to-client variants are not valid as client submissions
		c.queueMessage(protocol.UnsupportMessage("unhandled message kind " + string(msg.Kind)))
	default:
		c.queueMessage(protocol.UnsupportMessage("unhandled message kind " + string(msg.Kind)))
	}
}

func (c *Client) handleAuthenticate(token string) {
	if c.authenticated {
		c.queueMessage(protocol.UnsupportMessage("already authenticated"))
		return
	}

	userCode, err := c.cs.verifier.UserCodeFromToken(token)
	if err != nil {
		c.log.Println("verify token:", err)
		c.queueMessage(protocol.AuthenticateResponse(protocol.StatusExpireOrNotFound.Result()))
		return
	}

	user, err := c.cs.db.GetUserByCode(userCode)
	if err != nil {
		c.log.Printf("GetUserByCode %q: %v", userCode, err)
		c.queueMessage(protocol.AuthenticateResponse(protocol.StatusOther.Result()))
		return
	}

	c.user = user
	c.authenticated = true

	c.queueMessage(protocol.AuthenticateResponse(protocol.StatusSuccess.Result()))
}

func (c *Client) handleSubscribeGroup(msg protocol.Message) {
	select {
	case c.cs.subscribeChan <- &clientRequest{client: c, msg: msg}:
	default:
		c.log.Println("subscribeChan full")
		c.queueMessage(protocol.UnsupportMessage("server busy, try again"))
	}
}

func (c *Client) handleSend(msg protocol.Message) {
	g := c.getGroup(msg.NewMessage.GroupId)
	if g == nil {
		c.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result()))
		return
	}

	c.forwardToGroup(g, msg)
}

func (c *Client) handleEdit(msg protocol.Message) {
	g := c.getGroup(msg.Content.GroupId)
	if g == nil {
		c.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result()))
		return
	}

	c.forwardToGroup(g, msg)
}

// handleDelete resolves the target messages' groups and requires the
// connection to be subscribed to every one of them before anything is
// deleted; the batch is all-or-nothing.
func (c *Client) handleDelete(msg protocol.Message) {
	msgs, err := c.cs.db.GetMessagesByIds(msg.MessageIds)
	if err != nil {
		c.log.Println("GetMessagesByIds:", err)
		c.queueMessage(protocol.UnsupportMessage("failed to delete messages"))
		return
	}

	idsByGroup := make(map[int][]int)
	for _, m := range msgs {
		idsByGroup[m.GroupId] = append(idsByGroup[m.GroupId], m.Id)
	}

	groups := make(map[int]*Group, len(idsByGroup))
	for groupId := range idsByGroup {
		g := c.getGroup(groupId)
		if g == nil {
			c.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result()))
			return
		}
		groups[groupId] = g
	}

	for groupId, ids := range idsByGroup {
		c.forwardToGroup(groups[groupId], protocol.Delete(ids))
	}
}

func (c *Client) forwardToGroup(g *Group, msg protocol.Message) {
	select {
	case g.requestChan <- &clientRequest{client: c, msg: msg}:
	default:
		c.log.Printf("requestChan full for group %d", g.id)
		c.queueMessage(protocol.UnsupportMessage("server busy, try again"))
	}
}

// drainSend flushes whatever is still queued when the pump stops, so a
// final response is not lost to the connection close.
func (c *Client) drainSend() {
	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) queueMessage(msg protocol.Message) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.cs.DeRegisterClient(c)
	c.leaveAllGroups()
	c.stopClient()
}

// leaveAllGroups detaches a dropped connection from its fan-out streams.
// Committed messages and pending waiting list entries are untouched.
func (c *Client) leaveAllGroups() {
	c.groupsLock.RLock()
	defer c.groupsLock.RUnlock()

	for _, g := range c.groups {
		select {
		case g.unsubscribeChan <- c:
		default:
			c.log.Printf("unsubscribeChan full for group %d", g.id)
		}
	}
}

func (c *Client) addGroup(g *Group) {
	c.groupsLock.Lock()
	defer c.groupsLock.Unlock()
	c.groups[g.id] = g
}

func (c *Client) delGroup(id int) {
	c.groupsLock.Lock()
	defer c.groupsLock.Unlock()
	delete(c.groups, id)
}

func (c *Client) getGroup(id int) *Group {
	c.groupsLock.RLock()
	defer c.groupsLock.RUnlock()

	if g, ok := c.groups[id]; ok {
		return g
	}

	return nil
}
