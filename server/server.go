package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"confab/protocol"
	"confab/store"
)

type Server struct {
	store  *store.Store
	config *ServerConfig

	mu     sync.Mutex
	online map[string]net.Conn // username -> bound connection

	nextClientID atomic.Int64
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration // applied during binary receive phases
	WriteTimeout time.Duration
}

// session is the per-connection binding: empty until LOGIN or AUTH succeeds.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
	prefix string
	sid    string
	user   string
}

func New(st *store.Store, config *ServerConfig) *Server {
	return &Server{
		store:  st,
		config: config,
		online: make(map[string]net.Conn),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Printf("Server started on port %d", s.config.Port)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	id := s.nextClientID.Add(1)
	sess := &session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		prefix: fmt.Sprintf("client[%d]", id),
	}

	log.Printf("%s connected from %s", sess.prefix, conn.RemoteAddr())

	for {
		line, err := sess.reader.ReadString('\n')
		if err != nil {
			break
		}

		cmd, ok := protocol.Parse(line)
		if !ok {
			continue
		}

		// Credentials stay out of the log.
		if cmd.Verb == "LOGIN" || cmd.Verb == "REGISTER" {
			log.Printf("%s received: %s <redacted>", sess.prefix, cmd.Verb)
		} else {
			log.Printf("%s received: %q", sess.prefix, strings.TrimSpace(line))
		}

		s.dispatch(sess, cmd)
	}

	// Only tear down presence if this connection still owns the slot: a
	// takeover removes the old entry before closing the old socket, and the
	// new connection then takes the slot.
	if sess.user != "" && s.removeOnline(sess.user, conn) {
		s.store.SetUserStatus(sess.user, "offline")
		log.Printf("%s user %s disconnected", sess.prefix, sess.user)
	} else {
		log.Printf("%s disconnected", sess.prefix)
	}
}

func (s *Server) dispatch(sess *session, cmd *protocol.Command) {
	switch cmd.Verb {
	case "REGISTER", "LOGIN", "AUTH":
	default:
		if sess.user == "" {
			s.reply(sess, "FAIL 401 UNAUTHORIZED")
			return
		}
	}

	switch cmd.Verb {
	case "REGISTER":
		s.handleRegister(sess, cmd)
	case "LOGIN":
		s.handleLogin(sess, cmd)
	case "AUTH":
		s.handleAuth(sess, cmd)
	case "LOGOUT":
		s.handleLogout(sess)
	case "ADD_FRIEND":
		s.handleAddFriend(sess, cmd)
	case "CONFIRM_FRIEND":
		s.handleConfirmFriend(sess, cmd)
	case "REJECT_FRIEND":
		s.handleRejectFriend(sess, cmd)
	case "GET_FRIENDS":
		s.handleGetFriends(sess)
	case "INIT_GROUP":
		s.handleInitGroup(sess, cmd)
	case "SEND_INVITE":
		s.handleSendInvite(sess, cmd)
	case "CONFIRM_JOIN":
		s.handleConfirmJoin(sess, cmd)
	case "REJECT_JOIN":
		s.handleRejectJoin(sess, cmd)
	case "EJECT_USER":
		s.handleEjectUser(sess, cmd)
	case "GET_MEMBERS":
		s.handleGetMembers(sess, cmd)
	case "GET_GROUPS":
		s.handleGetGroups(sess)
	case "TEXT":
		s.handleText(sess, cmd)
	case "HISTORY":
		s.handleHistory(sess, cmd)
	case "REQ_UPLOAD":
		s.handleReqUpload(sess, cmd)
	case "UPLOAD_DATA":
		s.handleUploadData(sess, cmd)
	case "REQ_RESUME_UPLOAD":
		s.handleResumeUpload(sess, cmd)
	case "REQ_CANCEL_UPLOAD":
		s.handleCancelUpload(sess, cmd)
	case "REQ_DOWNLOAD":
		s.handleReqDownload(sess, cmd)
	case "REQ_RESUME_DOWNLOAD":
		s.handleResumeDownload(sess, cmd)
	case "REQ_CANCEL_DOWNLOAD":
		s.handleCancelDownload(sess, cmd)
	default:
		s.reply(sess, "FAIL 400 UNKNOWN_COMMAND")
	}
}

// reply writes one status line to the session's connection.
func (s *Server) reply(sess *session, line string) {
	s.writeLine(sess.conn, line)
	log.Printf("%s sent: %s", sess.prefix, line)
}

func (s *Server) writeLine(conn net.Conn, line string) error {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	_, err := conn.Write([]byte(line + "\n"))
	if err != nil {
		log.Printf("Error writing to connection: %v", err)
	}
	return err
}

// notify delivers one asynchronous event line to username's connection, if
// any. Best-effort: offline recipients and failed writes only get a log
// line. The online lock is held across the write so teardown cannot race it.
func (s *Server) notify(username, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.online[username]
	if !ok {
		log.Printf("NOTIFY to %s (offline): %s", username, message)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write([]byte(message + "\n")); err != nil {
		log.Printf("NOTIFY to %s failed: %v", username, err)
		return
	}
	log.Printf("NOTIFY to %s: %s", username, message)
}

func (s *Server) setOnline(username string, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[username] = conn
}

// removeOnline drops username's presence entry if it is still bound to conn.
func (s *Server) removeOnline(username string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.online[username]; ok && cur == conn {
		delete(s.online, username)
		return true
	}
	return false
}

// takeOnline removes and returns username's presence entry.
func (s *Server) takeOnline(username string) net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.online[username]
	delete(s.online, username)
	return conn
}

func (s *Server) isOnline(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[username]
	return ok
}

func (s *Server) presence(username string) string {
	if s.isOnline(username) {
		return "online"
	}
	return "offline"
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []string
	for username := range s.online {
		users = append(users, username)
	}

	return "connections=" + strconv.Itoa(len(users)) + ",users=" + strings.Join(users, ";")
}
