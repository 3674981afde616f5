package server

import (
	"context"
	"log"
	"sync"

	"groupchat/internal/database"
	"groupchat/internal/protocol"
	"groupchat/internal/stats"
)

// TokenVerifier resolves an authentication token to the user code it was
// issued for.
type TokenVerifier interface {
	UserCodeFromToken(token string) (string, error)
}

// clientRequest carries a client-submitted protocol message through the
// server's dispatch channels.
type clientRequest struct {
	client *Client
	msg    protocol.Message
}

type ChatServer struct {
	log           *log.Logger
	db            database.GroupChatRepository
	stats         stats.StatsProvider
	verifier      TokenVerifier
	clients       map[*Client]struct{}
	clientsLock   sync.Mutex
	groups        map[int]*Group
	groupsLock    sync.Mutex
	subscribeChan chan *clientRequest
	unloadChan    chan int
	stop          chan struct{}
	done          chan struct{}
}

func NewChatServer(logger *log.Logger, db database.GroupChatRepository, su stats.StatsProvider, verifier TokenVerifier) (*ChatServer, error) {
	cs := &ChatServer{
		log:           logger,
		db:            db,
		stats:         su,
		verifier:      verifier,
		clients:       make(map[*Client]struct{}),
		groups:        make(map[int]*Group),
		subscribeChan: make(chan *clientRequest, 256),
		unloadChan:    make(chan int, 256),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, metric := range []string{
		stats.NumActiveClients,
		stats.NumActiveGroups,
		stats.NumSubscriptions,
		stats.MessagesSent,
	} {
		su.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.subscribeChan:
			cs.handleSubscribe(req)
		case groupId := <-cs.unloadChan:
			cs.unloadGroup(groupId)
		case <-cs.stop:
			cs.log.Println("shutting down groups")
			cs.groupsLock.Lock()
			for _, g := range cs.groups {
				g.exit <- exitReq{done: make(chan struct{})}
				<-g.done
				cs.stats.Decr(stats.NumActiveGroups)
			}
			cs.groups = make(map[int]*Group)
			cs.groupsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

// handleSubscribe attaches a client to a group's fan-out stream, loading
// the group's goroutine on first use.
func (cs *ChatServer) handleSubscribe(req *clientRequest) {
	groupId := req.msg.GroupId

	if g, ok := cs.getGroup(groupId); ok {
		select {
		case g.subscribeChan <- req:
		default:
			cs.log.Printf("subscribe channel full on group %d", groupId)
			req.client.queueMessage(protocol.UnsupportMessage("server busy, try again"))
		}
		return
	}

	dbGroup, err := cs.db.GetGroupById(groupId)
	if err != nil {
		cs.log.Printf("GetGroupById %d: %v", groupId, err)
		req.client.queueMessage(protocol.SubscribeGroupResponse(protocol.StatusNoPermission.Result()))
		return
	}

	g := newGroup(dbGroup, cs)
	cs.addGroup(g)
	g.subscribeChan <- req

	go g.start()
}

func (cs *ChatServer) getGroup(groupId int) (*Group, bool) {
	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()
	g, ok := cs.groups[groupId]
	return g, ok
}

func (cs *ChatServer) addGroup(g *Group) {
	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()
	cs.groups[g.id] = g
	cs.stats.Incr(stats.NumActiveGroups)
}

func (cs *ChatServer) unloadGroup(groupId int) {
	cs.groupsLock.Lock()
	g, ok := cs.groups[groupId]
	if ok {
		delete(cs.groups, groupId)
	}
	cs.groupsLock.Unlock()

	if !ok {
		return
	}

	cs.log.Printf("unloading group %d", groupId)
	g.exit <- exitReq{done: make(chan struct{})}
	<-g.done
	cs.stats.Decr(stats.NumActiveGroups)
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveClients)
}

func (cs *ChatServer) DeRegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveClients)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
