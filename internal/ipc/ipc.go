// Package ipc bridges the presentation layer to the send-flow controller
// over a local socket: JSON commands in, state snapshots out. Every
// subscriber receives the controller state after each change, so a UI can
// render purely from the pushed snapshots.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/brightwallet/sendcore/internal/controller"
	"github.com/brightwallet/sendcore/lib/fees"
)

const windowsSocketPort = ":7070"

var osType = runtime.GOOS

var commandID int

func generateCommandID() int {
	commandID++
	return commandID
}

// NewServer listens on the given unix socket path (a TCP port on Windows)
// and serves the controller. Call Broadcast from the controller's update
// hook to push snapshots to subscribers.
func NewServer(socketPath string, ctrl *controller.Controller) (*Server, error) {
	var listener net.Listener
	var err error

	if osType == "windows" {
		listener, err = net.Listen("tcp", windowsSocketPort)
	} else {
		if _, serr := os.Stat(socketPath); serr == nil {
			if rerr := os.Remove(socketPath); rerr != nil {
				return nil, fmt.Errorf("failed to remove existing socket file: %v", rerr)
			}
		}
		listener, err = net.Listen("unix", socketPath)
	}
	if err != nil {
		return nil, err
	}

	server := &Server{
		listener:    listener,
		ctrl:        ctrl,
		subscribers: make(map[net.Conn]bool),
	}

	go server.accept()

	return server, nil
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.removeSubscriber(conn)
		conn.Close()
	}()

	s.addSubscriber(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 65536), 65536)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			log.Printf("Failed to parse command: %v", err)
			continue
		}

		resp := Response{ID: cmd.ID, Status: "ok"}
		if err := s.dispatch(&cmd); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		}
		resp.State = s.stateView()

		s.writeJSON(conn, resp)
	}
}

// dispatch applies one command to the controller.
func (s *Server) dispatch(cmd *Command) error {
	arg := ""
	if len(cmd.Args) > 0 {
		arg = cmd.Args[0]
	}

	switch cmd.Command {
	case "set_address":
		return s.ctrl.SetAddress(arg)
	case "set_amount":
		sats, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("amount must be an integer satoshi count: %v", err)
		}
		return s.ctrl.SetAmount(btcutil.Amount(sats))
	case "select_method":
		m, err := parseMethod(arg)
		if err != nil {
			return err
		}
		return s.ctrl.SelectMethod(m)
	case "slider":
		switch arg {
		case "begin":
			s.ctrl.BeginSliderDrag()
			return nil
		case "end":
			s.ctrl.EndSliderDrag()
			return nil
		default:
			pos, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("slider argument must be begin, end or a position: %v", err)
			}
			return s.ctrl.SetSliderPosition(pos)
		}
	case "set_rbf":
		enabled, err := strconv.ParseBool(arg)
		if err != nil {
			return fmt.Errorf("set_rbf argument must be a bool: %v", err)
		}
		return s.ctrl.SetRBF(enabled)
	case "confirm":
		txid, err := s.ctrl.Confirm(context.Background())
		if err != nil {
			return err
		}
		s.mutex.Lock()
		s.lastTxID = txid.String()
		s.mutex.Unlock()
		return nil
	case "cancel":
		return s.ctrl.Cancel()
	case "state":
		return nil
	}
	return fmt.Errorf("unknown command: %s", cmd.Command)
}

func parseMethod(arg string) (fees.Method, error) {
	switch strings.ToLower(arg) {
	case "static", "0":
		return fees.Static, nil
	case "eta", "1":
		return fees.ETA, nil
	case "mempool", "2":
		return fees.Mempool, nil
	}
	return 0, fmt.Errorf("unknown fee method: %s", arg)
}

func (s *Server) stateView() *StateView {
	snap := s.ctrl.Snapshot()
	s.mutex.Lock()
	txid := s.lastTxID
	s.mutex.Unlock()
	return ViewOf(snap, txid)
}

// ViewOf converts a controller snapshot to its wire form.
func ViewOf(snap controller.Snapshot, txid string) *StateView {
	view := &StateView{
		State:       snap.State.String(),
		Address:     snap.Draft.Address,
		AmountSat:   int64(snap.Draft.Amount),
		Method:      snap.Draft.Method.String(),
		SliderPos:   snap.Draft.SliderPos,
		SliderSteps: snap.Draft.SliderSteps,
		FeeRate:     snap.Draft.FeeRate,
		FeeSat:      int64(snap.Draft.Fee),
		Target:      snap.Draft.Target,
		RBF:         snap.Draft.RBF,
		Warning:     snap.Draft.Warning,
		Valid:       snap.Draft.Valid,
		CanConfirm:  snap.CanConfirm(),
	}
	if snap.State == controller.StateSent {
		view.TxID = txid
	}
	for _, out := range snap.Draft.Outputs {
		view.Outputs = append(view.Outputs, OutputView{
			Address: out.Address,
			Value:   int64(out.Value),
			Change:  out.Change,
		})
	}
	return view
}

// Broadcast pushes a controller snapshot to every subscriber. Wire it to
// the controller's update hook.
func (s *Server) Broadcast(snap controller.Snapshot) {
	s.mutex.Lock()
	txid := s.lastTxID
	conns := make([]net.Conn, 0, len(s.subscribers))
	for conn := range s.subscribers {
		conns = append(conns, conn)
	}
	s.mutex.Unlock()

	view := ViewOf(snap, txid)
	for _, conn := range conns {
		s.writeJSON(conn, view)
	}
}

func (s *Server) writeJSON(conn net.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		log.Printf("Failed to write to connection: %v", err)
		s.removeSubscriber(conn)
	}
}

func (s *Server) addSubscriber(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscribers[conn] = true
}

func (s *Server) removeSubscriber(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.subscribers, conn)
}

func (s *Server) Close() error {
	return s.listener.Close()
}

// NewClient connects to the server socket.
func NewClient(socketPath string) (*Client, error) {
	var conn net.Conn
	var err error

	if osType == "windows" {
		conn, err = net.Dial("tcp", windowsSocketPort)
	} else {
		conn, err = net.Dial("unix", socketPath)
	}
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// SendCommand sends one command and reads responses until the matching one
// arrives (pushed state broadcasts in between are skipped).
func (c *Client) SendCommand(command string, args []string) (*StateView, error) {
	cmd := Command{
		ID:      generateCommandID(),
		Command: command,
		Args:    args,
	}

	cmdData, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("error marshaling command: %v", err)
	}
	cmdData = append(cmdData, '\n')
	if _, err := c.conn.Write(cmdData); err != nil {
		return nil, fmt.Errorf("error writing command to connection: %v", err)
	}

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("connection closed before response")
			}
			return nil, fmt.Errorf("error reading response from connection: %v", err)
		}

		var response Response
		if err := json.Unmarshal(line, &response); err != nil || response.ID != cmd.ID {
			// A pushed state broadcast, not our response.
			continue
		}
		if response.Status != "ok" {
			return response.State, fmt.Errorf("%s", response.Error)
		}
		return response.State, nil
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
