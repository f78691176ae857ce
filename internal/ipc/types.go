package ipc

import (
	"net"
	"sync"

	"github.com/brightwallet/sendcore/internal/controller"
)

// Command is one presentation-layer gesture sent over the socket.
type Command struct {
	ID      int      `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Response answers a command. State carries the controller snapshot after
// the command was applied.
type Response struct {
	ID     int        `json:"id"`
	Status string     `json:"status"` // ok or error
	Error  string     `json:"error,omitempty"`
	State  *StateView `json:"state,omitempty"`
}

// StateView is the wire form of a controller snapshot.
type StateView struct {
	State       string       `json:"state"`
	Address     string       `json:"address"`
	AmountSat   int64        `json:"amount_sat"`
	Method      string       `json:"method"`
	SliderPos   int          `json:"slider_pos"`
	SliderSteps int          `json:"slider_steps"`
	FeeRate     float64      `json:"fee_rate"`
	FeeSat      int64        `json:"fee_sat"`
	Target      string       `json:"target"`
	RBF         bool         `json:"rbf"`
	Warning     string       `json:"warning,omitempty"`
	Valid       bool         `json:"valid"`
	CanConfirm  bool         `json:"can_confirm"`
	Outputs     []OutputView `json:"outputs,omitempty"`
	TxID        string       `json:"txid,omitempty"`
}

// OutputView is one draft output on the wire.
type OutputView struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
	Change  bool   `json:"change"`
}

// Server exposes one send workflow's controller over a local socket and
// pushes a state snapshot to every subscriber after each change.
type Server struct {
	listener    net.Listener
	ctrl        *controller.Controller
	mutex       sync.Mutex
	subscribers map[net.Conn]bool
	lastTxID    string
}

// Client is the presentation side of the socket.
type Client struct {
	conn net.Conn
}
