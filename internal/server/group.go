package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"groupchat/internal/database"
	"groupchat/internal/protocol"
	"groupchat/internal/stats"
)

const idleGroupTimeout = time.Second * 30

type exitReq struct {
	done chan struct{}
}

// Group serializes all storage writes and fan-out for one chat group.
// Running them on a single goroutine guarantees subscribers observe
// messages in commit order.
type Group struct {
	id              int
	dbGroup         database.Group
	cs              *ChatServer
	subscribeChan   chan *clientRequest
	unsubscribeChan chan *Client
	requestChan     chan *clientRequest
	clients         map[*Client]struct{}
	clientLock      sync.RWMutex
	log             *log.Logger
	// killTimer unloads the group once its last subscriber is gone
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newGroup(dbGroup database.Group, cs *ChatServer) *Group {
	return &Group{
		id:              dbGroup.Id,
		dbGroup:         dbGroup,
		cs:              cs,
		subscribeChan:   make(chan *clientRequest, 256),
		unsubscribeChan: make(chan *Client, 256),
		requestChan:     make(chan *clientRequest, 256),
		clients:         make(map[*Client]struct{}),
		log:             cs.log,
		exit:            make(chan exitReq),
		done:            make(chan struct{}),
	}
}

func (g *Group) start() {
	g.log.Printf("starting group %d", g.id)
	g.killTimer = time.NewTimer(idleGroupTimeout)
	g.killTimer.Stop()

	for {
		select {
		case req := <-g.subscribeChan:
			g.handleSubscribe(req)
		case c := <-g.unsubscribeChan:
			g.removeClient(c)
		case req := <-g.requestChan:
			switch req.msg.Kind {
			case protocol.KindSend:
				g.saveAndBroadcast(req)
			case protocol.KindEdit:
				g.handleEdit(req)
			case protocol.KindDelete:
				g.handleDelete(req)
			default:
				req.client.queueMessage(protocol.UnsupportMessage("unhandled message kind " + string(req.msg.Kind)))
			}
		case <-g.killTimer.C:
			g.log.Printf("group %d timed out", g.id)
			g.cs.unloadChan <- g.id
		case e := <-g.exit:
			g.handleExit(e)
			return
		}
	}
}

func (g *Group) handleExit(e exitReq) {
	g.log.Printf("group %d is exiting", g.id)

	g.clientLock.Lock()
	for c := range g.clients {
		c.delGroup(g.id)
		g.cs.stats.Decr(stats.NumSubscriptions)
	}
	g.clients = make(map[*Client]struct{})
	g.clientLock.Unlock()

	if e.done != nil {
		close(e.done)
	}
	close(g.done)
}

// handleSubscribe admits a connection to the group's stream. Membership
// is checked against storage at subscribe time; the connection carries no
// standing permission beyond this.
func (g *Group) handleSubscribe(req *clientRequest) {
	g.killTimer.Stop()

	c := req.client
	if !g.cs.db.IsParticipant(c.user.Id, g.id) {
		if g.numClients() == 0 {
			g.killTimer.Reset(idleGroupTimeout)
		}
		c.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result()))
		return
	}

	g.addClient(c)
	c.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusSuccess.Result()))
}

func (g *Group) addClient(c *Client) {
	g.clientLock.Lock()
	defer g.clientLock.Unlock()

	if _, ok := g.clients[c]; ok {
		return
	}

	g.clients[c] = struct{}{}
	c.addGroup(g)
	g.cs.stats.Incr(stats.NumSubscriptions)
}

func (g *Group) removeClient(c *Client) {
	g.clientLock.Lock()
	defer g.clientLock.Unlock()

	if _, ok := g.clients[c]; !ok {
		return
	}

	delete(g.clients, c)
	c.delGroup(g.id)
	g.cs.stats.Decr(stats.NumSubscriptions)

	if len(g.clients) == 0 {
		g.log.Printf("no subscribers in group %d, starting kill timer", g.id)
		g.killTimer.Reset(idleGroupTimeout)
	}
}

func (g *Group) numClients() int {
	g.clientLock.RLock()
	defer g.clientLock.RUnlock()
	return len(g.clients)
}

// saveAndBroadcast commits a client submission, then fans it out. Insert
// and broadcast run on this goroutine, so delivery order matches commit
// order for the group.
func (g *Group) saveAndBroadcast(req *clientRequest) {
	params := req.msg.NewMessage.InsertParams(req.client.user.Id)

	stored, err := g.cs.db.InsertMessage(params)
	if err != nil {
		g.log.Printf("InsertMessage in group %d: %v", g.id, err)
		req.client.queueMessage(sendFailure(err))
		return
	}

	g.cs.stats.Incr(stats.MessagesSent)
	g.broadcast(protocol.Receive(protocol.FromStoredMessage(stored)))
}

func (g *Group) handleEdit(req *clientRequest) {
	content := req.msg.Content

	stored, err := g.cs.db.GetMessageByUuid(content.MessageUuid)
	if err != nil {
		req.client.queueMessage(protocol.UnsupportMessage("message not found"))
		return
	}

	// only the author may edit, and only within the message's group
	if stored.GroupId != g.id || stored.UserId != req.client.user.Id {
		req.client.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result()))
		return
	}

	if err := g.cs.db.EditMessageContent(stored.Id, content.Content); err != nil {
		g.log.Printf("EditMessageContent %d: %v", stored.Id, err)
		req.client.queueMessage(protocol.UnsupportMessage("failed to edit message"))
		return
	}

	g.broadcast(protocol.Edit(protocol.MessageContent{
		MessageUuid: stored.MessageUuid,
		UserId:      stored.UserId,
		GroupId:     stored.GroupId,
		Content:     content.Content,
		CreatedAt:   stored.CreatedAt.UTC(),
		Status:      protocol.StatusSent,
	}))
}

func (g *Group) handleDelete(req *clientRequest) {
	ids := req.msg.MessageIds
	if err := g.cs.db.DeleteMessages(ids); err != nil {
		g.log.Printf("DeleteMessages in group %d: %v", g.id, err)
		req.client.queueMessage(protocol.UnsupportMessage("failed to delete messages"))
		return
	}

	g.broadcast(protocol.Delete(ids))
}

func (g *Group) broadcast(msg protocol.Message) {
	g.clientLock.RLock()
	defer g.clientLock.RUnlock()

	for c := range g.clients {
		c.queueMessage(msg)
	}
}

// sendFailure maps a storage error from a message insert to the protocol
// response the submitting client receives. Permission violations use the
// fixed NoPermission result; everything else is reported descriptively.
func sendFailure(err error) protocol.Message {
	switch {
	case errors.Is(err, database.ErrNotAParticipant):
		return protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result())
	case errors.Is(err, database.ErrGroupExpired),
		errors.Is(err, database.ErrEmptyContent),
		errors.Is(err, database.ErrNoAttachments):
		return protocol.UnsupportMessage(err.Error())
	default:
		return protocol.UnsupportMessage("failed to save message")
	}
}
