package node

import (
	"context"
	"encoding/hex"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/soloforge/soloforge/pkg/errors"
	"github.com/soloforge/soloforge/pkg/log"
)

// hashblockTopic is the node's new-tip notification topic.
const hashblockTopic = "hashblock"

// zmqRecvTimeout bounds each socket read so shutdown is never blocked on a
// quiet endpoint.
const zmqRecvTimeout = 250 * time.Millisecond

// TipNotifier subscribes to the node's ZMQ block notifications and invokes a
// callback on every new chain tip. It is an optimization over interval
// polling: the engine learns about tip changes immediately instead of waiting
// for the next poll tick, and keeps working if the socket drops.
type TipNotifier struct {
	socket   *zmq.Socket
	endpoint string
	onTip    func(blockHash string)
	logger   *log.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTipNotifier creates a notifier for the given ZMQ endpoint. onTip runs on
// the notifier goroutine and must not block.
func NewTipNotifier(endpoint string, onTip func(blockHash string), logger *log.Logger) (*TipNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "zmq_socket",
			"failed to create ZMQ subscriber socket")
	}

	if err := socket.SetRcvtimeo(zmqRecvTimeout); err != nil {
		socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "zmq_socket",
			"failed to set ZMQ receive timeout")
	}

	return &TipNotifier{
		socket:   socket,
		endpoint: endpoint,
		onTip:    onTip,
		logger:   logger.WithComponent("zmq"),
		done:     make(chan struct{}),
	}, nil
}

// Start connects, subscribes to hashblock, and launches the listener.
func (n *TipNotifier) Start(ctx context.Context) error {
	if err := n.socket.Connect(n.endpoint); err != nil {
		return errors.Wrap(err, errors.ErrorTypeMessaging, "zmq_connect",
			"failed to connect to ZMQ endpoint").
			WithContext("endpoint", n.endpoint)
	}
	if err := n.socket.SetSubscribe(hashblockTopic); err != nil {
		return errors.Wrap(err, errors.ErrorTypeMessaging, "zmq_subscribe",
			"failed to subscribe to block notifications").
			WithContext("topic", hashblockTopic)
	}

	n.logger.Info("listening for tip notifications", "endpoint", n.endpoint)

	n.wg.Add(1)
	go n.listen(ctx)
	return nil
}

// Stop halts the listener and closes the socket.
func (n *TipNotifier) Stop() {
	close(n.done)
	n.wg.Wait()
	n.socket.Close()
}

func (n *TipNotifier) listen(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-n.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := n.socket.RecvMessageBytes(0)
		if err != nil {
			// Receive timeout: loop back to the shutdown check.
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			n.logger.WithError(err).Warn("ZMQ receive failed")
			continue
		}

		if len(msg) < 2 || string(msg[0]) != hashblockTopic {
			continue
		}
		if len(msg[1]) != 32 {
			n.logger.Warn("malformed hashblock notification", "length", len(msg[1]))
			continue
		}

		hash := reverseHex(msg[1])
		n.logger.Debug("tip notification", "hash", hash)
		n.onTip(hash)
	}
}

// reverseHex renders a 32-byte hash in display order.
func reverseHex(data []byte) string {
	reversed := make([]byte, len(data))
	for i := range data {
		reversed[i] = data[len(data)-1-i]
	}
	return hex.EncodeToString(reversed)
}
