// Copyright 2025 Certen Protocol
package gossip

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	cmtconfig "github.com/cometbft/cometbft/config"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/p2p/conn"

	"github.com/certen/bridge-validator/internal/model"
)

// Config carries the Gossip Overlay's externally configured surface
// (§6 overlay_listen_port, overlay_bootstrap_peers).
type Config struct {
	// ListenAddr is this node's p2p listen address, e.g. "0.0.0.0:26656".
	ListenAddr string
	// NodeKeyPath is where the node's own locally-generated identity
	// keypair lives — distinct from the attestation key (§4.6).
	NodeKeyPath string
	// BootstrapPeers are optional "nodeID@host:port" addresses to dial
	// on startup. Empty means standalone (a single-validator deployment
	// is valid).
	BootstrapPeers []string
	// Moniker identifies this node to peers during the handshake.
	Moniker string
}

// Overlay owns the p2p switch/transport and the gossip Reactor, and is
// the Coordinator's publish surface.
type Overlay struct {
	sw        *p2p.Switch
	transport *p2p.MultiplexTransport
	reactor   *Reactor
	nodeKey   *p2p.NodeKey
	cfg       Config
	logger    *log.Logger
}

// New constructs an Overlay bound to cfg. handlers receives verified,
// fresh inbound messages; isKnown filters validator-announce traffic by
// active-set membership; selfValidatorID tags outbound envelopes and
// lets the reactor recognize (and ignore) any that loop back.
func New(cfg Config, handlers Handlers, isKnown IsKnownValidator, selfValidatorID string, logger *log.Logger) (*Overlay, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[Gossip] ", log.LstdFlags)
	}

	nodeKey, err := p2p.LoadOrGenNodeKey(cfg.NodeKeyPath)
	if err != nil {
		return nil, fmt.Errorf("gossip: load or generate node key: %w", err)
	}

	reactor := NewReactor(handlers, isKnown, selfValidatorID, logger)

	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.ProtocolVersion{P2P: 8, Block: 11, App: 1},
		DefaultNodeID:   nodeKey.ID(),
		ListenAddr:      cfg.ListenAddr,
		Network:         "certen-bridge-validator",
		Version:         "1.0.0",
		Moniker:         cfg.Moniker,
		Channels:        []byte{chanAttestations, chanTransfers, chanValidatorAnnounce},
	}

	transport := p2p.NewMultiplexTransport(nodeInfo, *nodeKey, conn.DefaultMConnConfig())

	p2pConfig := cmtconfig.DefaultP2PConfig()
	sw := p2p.NewSwitch(p2pConfig, transport)
	sw.SetLogger(cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)))
	sw.SetNodeKey(nodeKey)
	sw.SetNodeInfo(nodeInfo)
	sw.AddReactor("GOSSIP", reactor)

	return &Overlay{
		sw:        sw,
		transport: transport,
		reactor:   reactor,
		nodeKey:   nodeKey,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start binds the listen address and dials any configured bootstrap
// peers (best-effort — an unreachable peer does not fail startup).
func (o *Overlay) Start() error {
	addr, err := p2p.NewNetAddressString(fmt.Sprintf("%s@%s", o.nodeKey.ID(), o.cfg.ListenAddr))
	if err != nil {
		return fmt.Errorf("gossip: parse listen address: %w", err)
	}
	if err := o.transport.Listen(*addr); err != nil {
		return fmt.Errorf("gossip: listen on %s: %w", o.cfg.ListenAddr, err)
	}
	if err := o.sw.Start(); err != nil {
		return fmt.Errorf("gossip: start switch: %w", err)
	}

	for _, raw := range o.cfg.BootstrapPeers {
		peerAddr, err := p2p.NewNetAddressString(raw)
		if err != nil {
			o.logger.Printf("skipping malformed bootstrap peer %q: %v", raw, err)
			continue
		}
		if err := o.sw.DialPeerWithAddress(peerAddr); err != nil {
			o.logger.Printf("failed to dial bootstrap peer %s: %v", raw, err)
		}
	}
	return nil
}

// Stop tears down the switch and all peer connections.
func (o *Overlay) Stop() error {
	return o.sw.Stop()
}

func (o *Overlay) publish(chID byte, msgType MessageType, selfValidatorID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gossip: marshal %s payload: %w", msgType, err)
	}
	env := Envelope{
		Type:              msgType,
		Payload:           body,
		SenderValidatorID: selfValidatorID,
		SentAtMs:          time.Now().UnixMilli(),
	}
	return o.reactor.broadcast(chID, env)
}

// PublishAttestation publishes our own attestation on the attestations
// topic.
func (o *Overlay) PublishAttestation(att model.Attestation) error {
	return o.publish(chanAttestations, MessageAttestation, att.ValidatorID, att)
}

// PublishTransfer publishes a newly observed TransferEvent on the
// transfers topic, letting peers whose own watcher hasn't yet surfaced
// it start signing immediately.
func (o *Overlay) PublishTransfer(event model.TransferEvent, selfValidatorID string) error {
	return o.publish(chanTransfers, MessageTransfer, selfValidatorID, event)
}

// PublishHeartbeat publishes a liveness announcement on the
// validator-announce topic (§4.4 Coordinator "Periodic heartbeat").
func (o *Overlay) PublishHeartbeat(selfValidatorID string, now time.Time) error {
	return o.publish(chanValidatorAnnounce, MessageHeartbeat, selfValidatorID, ValidatorAnnounce{
		ValidatorID: selfValidatorID,
		AnnouncedAt: now.UnixMilli(),
	})
}
