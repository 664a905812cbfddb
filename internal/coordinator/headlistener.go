package coordinator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
)

// HeadEvent is one new-head notification, reduced to what the stages
// need; the block stage refetches the full header over HTTP RPC.
type HeadEvent struct {
	Number    *big.Int
	Hash      string
	Timestamp time.Time
}

type listenerState string

const (
	stateConnecting   listenerState = "CONNECTING"
	stateSubscribed   listenerState = "SUBSCRIBED"
	stateDisconnected listenerState = "DISCONNECTED"
	stateShutdown     listenerState = "SHUTDOWN"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 60 * time.Second
	// heartbeatInterval is how long the subscription may stay silent
	// before it is treated as dead and reconnected.
	heartbeatInterval = 20 * time.Second
	// queueWarnWatermark triggers a backpressure warning when the queue is
	// this full.
	queueWarnWatermark = 0.8
)

// errHeartbeatMiss marks a subscription that went silent without the
// transport reporting a close.
var errHeartbeatMiss = errors.New("no head received within heartbeat interval")

// HeadListener owns the WebSocket subscription. It reconnects with
// exponential backoff on any disconnect or heartbeat miss and applies
// backpressure by blocking on the bounded queue.
type HeadListener struct {
	wsURL     string
	out       chan<- HeadEvent
	heartbeat time.Duration
}

func NewHeadListener(wsURL string, out chan<- HeadEvent) *HeadListener {
	return &HeadListener{wsURL: wsURL, out: out, heartbeat: heartbeatInterval}
}

func (l *HeadListener) Run(ctx context.Context) {
	retryDelay := reconnectBaseDelay

	for {
		if ctx.Err() != nil {
			l.logState(stateShutdown)
			return
		}

		l.logState(stateConnecting)
		connected, err := l.connectAndStream(ctx)
		if ctx.Err() != nil {
			l.logState(stateShutdown)
			return
		}
		l.logState(stateDisconnected)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket connection lost")
		}
		if connected {
			// A healthy subscription resets the backoff.
			retryDelay = reconnectBaseDelay
		}

		metrics.ReconnectCounter.Inc()
		log.Info().Msgf("Reconnecting in %s", retryDelay)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			l.logState(stateShutdown)
			return
		}
		retryDelay *= 2
		if retryDelay > reconnectMaxDelay {
			retryDelay = reconnectMaxDelay
		}
	}
}

// connectAndStream dials, subscribes and pumps heads until the
// subscription drops. Returns whether a subscription was established.
func (l *HeadListener) connectAndStream(ctx context.Context) (bool, error) {
	rpcClient, err := gethRpc.DialContext(ctx, l.wsURL)
	if err != nil {
		return false, err
	}
	defer rpcClient.Close()
	ethClient := ethclient.NewClient(rpcClient)

	heads := make(chan *types.Header, 16)
	sub, err := ethClient.SubscribeNewHead(ctx, heads)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()

	l.logState(stateSubscribed)
	log.Info().Msg("Subscribed to newHeads")

	return true, l.pump(ctx, heads, sub.Err())
}

// pump forwards heads until the subscription errors, the context ends,
// or the stream goes silent past the heartbeat interval. A stalled peer
// can stop emitting heads without closing the socket; the heartbeat
// timer turns that into a reconnect.
func (l *HeadListener) pump(ctx context.Context, heads <-chan *types.Header, subErr <-chan error) error {
	heartbeat := time.NewTimer(l.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-subErr:
			return err
		case <-heartbeat.C:
			return errHeartbeatMiss
		case header := <-heads:
			if !heartbeat.Stop() {
				<-heartbeat.C
			}
			heartbeat.Reset(l.heartbeat)
			if header == nil {
				continue
			}
			l.dispatch(ctx, header)
		}
	}
}

func (l *HeadListener) dispatch(ctx context.Context, header *types.Header) {
	event := HeadEvent{
		Number:    new(big.Int).Set(header.Number),
		Hash:      header.Hash().Hex(),
		Timestamp: time.Unix(int64(header.Time), 0).UTC(),
	}

	metrics.HeadsReceived.Inc()
	headFloat, _ := event.Number.Float64()
	metrics.LastHeadBlock.Set(headFloat)

	depth := len(l.out)
	capacity := cap(l.out)
	metrics.HeadQueueDepth.Set(float64(depth))
	if capacity > 0 && float64(depth) >= float64(capacity)*queueWarnWatermark {
		log.Warn().Msgf("Head queue at %d/%d, stages are falling behind", depth, capacity)
	}

	// Blocking send: a full queue pauses WebSocket consumption rather
	// than dropping heads.
	select {
	case l.out <- event:
		log.Info().Msgf("New block #%s hash=%.10s...", event.Number.String(), event.Hash)
	case <-ctx.Done():
	}
}

func (l *HeadListener) logState(state listenerState) {
	log.Debug().Str("state", string(state)).Msg("Head listener state change")
}
