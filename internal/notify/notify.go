// Package notify fans out touched-address notifications over a libp2p
// GossipSub topic, adapted from the publish side of internal/p2p.Node:
// this is a publish-only node with no peer discovery or subscription
// handling, since downstream consumers (wallets, explorers) only ever
// listen.
package notify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

// Notifier publishes touched-fingerprint batches to a single GossipSub
// topic. Construct with New, call Start once, then register Publish as
// an indexer.BlockCallback.
type Notifier struct {
	log   zerolog.Logger
	addr  string
	topic string

	host   host.Host
	ps     *pubsub.PubSub
	gtopic *pubsub.Topic
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Notifier listening on listenAddr (e.g. "/ip4/0.0.0.0/tcp/4102")
// and publishing to the given GossipSub topic string.
func New(listenAddr, topic string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		log:   logger,
		addr:  listenAddr,
		topic: topic,
	}
}

// Start brings up the libp2p host, joins the topic, and returns once
// publishing is ready.
func (n *Notifier) Start() error {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	maddr, err := multiaddr.NewMultiaddr(n.addr)
	if err != nil {
		n.cancel()
		return fmt.Errorf("notify: invalid listen address %q: %w", n.addr, err)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(maddr))
	if err != nil {
		n.cancel()
		return fmt.Errorf("notify: create libp2p host: %w", err)
	}
	n.host = h

	ps, err := pubsub.NewGossipSub(n.ctx, h)
	if err != nil {
		h.Close()
		return fmt.Errorf("notify: create pubsub: %w", err)
	}
	n.ps = ps

	topic, err := ps.Join(n.topic)
	if err != nil {
		h.Close()
		return fmt.Errorf("notify: join topic %q: %w", n.topic, err)
	}
	n.gtopic = topic

	n.log.Info().Str("topic", n.topic).Str("listen", n.addr).Msg("notifier started")
	return nil
}

// Stop closes the topic and tears down the host.
func (n *Notifier) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.gtopic != nil {
		n.gtopic.Close()
	}
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// touchedMessage is the wire payload published on each notification,
// including empty batches so subscribers can distinguish "caught up,
// nothing touched" from "not yet connected".
type touchedMessage struct {
	Fingerprints []string `json:"fingerprints"`
}

// Publish encodes and publishes the touched fingerprint set. It matches
// the indexer.BlockCallback signature so it can be registered directly
// via Engine.AddNewBlockCallback.
func (n *Notifier) Publish(touched []chainhash.Fingerprint) {
	if n.gtopic == nil {
		return
	}
	msg := touchedMessage{Fingerprints: make([]string, len(touched))}
	for i, fp := range touched {
		msg.Fingerprints[i] = hex.EncodeToString(fp[:])
	}
	data, err := json.Marshal(msg)
	if err != nil {
		n.log.Error().Err(err).Msg("notify: marshal touched message")
		return
	}
	if err := n.gtopic.Publish(n.ctx, data); err != nil {
		n.log.Warn().Err(err).Msg("notify: publish failed")
	}
}
