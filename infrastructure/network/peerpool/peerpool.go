// Package peerpool keeps connections to a static set of peers and lends
// them to the block downloader, one borrower at a time.
package peerpool

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/protocolerrors"
	"github.com/ringchain/ringd/domain/chain/model"
)

// PeerClient is a connection to one peer whose chain info can be
// refreshed.
type PeerClient interface {
	blockdownloader.PeerClient
	RefreshInfo(ctx context.Context) error
	Close() error
}

// ConnectFunc opens a connection to the peer at address. The returned
// client's ID must be address.
type ConnectFunc func(address string) (PeerClient, error)

// Config holds the settings of a PeerPool.
type Config struct {
	Addresses   []string
	Connect     ConnectFunc
	BanDuration time.Duration
	InfoTimeout time.Duration

	// RefreshTicker drives the periodic connect and info refresh.
	RefreshTicker ticker.Ticker
}

// peerState is one configured peer.
type peerState struct {
	address string
	client  PeerClient

	// borrowed is set while the client is lent out or refreshing.
	borrowed      bool
	hasInfo       bool
	bannedAt      time.Time
	isBanned      bool
	closeOnReturn bool

	nextAttempt   time.Time
	retryDuration time.Duration
}

// PeerPool lends peer clients out exclusively. It implements
// blockdownloader.ClientPool.
type PeerPool struct {
	cfg     *Config
	timeNow func() time.Time

	lock  sync.Mutex
	peers []*peerState
	byID  map[blockdownloader.PeerID]*peerState

	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns a pool for the peers at cfg.Addresses. Nothing is connected
// until Refresh or Start is called.
func New(cfg *Config) *PeerPool {
	pool := &PeerPool{
		cfg:     cfg,
		timeNow: time.Now,
		byID:    make(map[blockdownloader.PeerID]*peerState, len(cfg.Addresses)),
		quit:    make(chan struct{}),
	}
	for _, address := range cfg.Addresses {
		id := blockdownloader.PeerID(address)
		if _, ok := pool.byID[id]; ok {
			continue
		}
		peer := &peerState{address: address}
		pool.peers = append(pool.peers, peer)
		pool.byID[id] = peer
	}
	return pool
}

// Start refreshes the pool now and on every tick of the refresh ticker.
func (p *PeerPool) Start() {
	p.wg.Add(1)
	spawn("PeerPool.refreshLoop", func() {
		defer p.wg.Done()
		p.refreshLoop()
	})
}

// Stop ends the refresh loop and closes every connection that is not lent
// out.
func (p *PeerPool) Stop() {
	close(p.quit)
	p.wg.Wait()

	p.lock.Lock()
	defer p.lock.Unlock()
	for _, peer := range p.peers {
		if peer.client != nil && !peer.borrowed {
			p.disconnect(peer)
		}
	}
}

func (p *PeerPool) refreshLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	spawn("PeerPool.refreshLoop-cancelOnQuit", func() {
		select {
		case <-p.quit:
			cancel()
		case <-ctx.Done():
		}
	})

	p.cfg.RefreshTicker.Resume()
	defer p.cfg.RefreshTicker.Stop()

	p.Refresh(ctx)
	for {
		select {
		case <-p.cfg.RefreshTicker.Ticks():
			p.Refresh(ctx)
		case <-p.quit:
			return
		}
	}
}

// Refresh connects to the peers that are due for a connection attempt and
// refreshes the chain info of every peer not lent out.
func (p *PeerPool) Refresh(ctx context.Context) {
	p.lock.Lock()
	now := p.timeNow()
	var toRefresh []*peerState
	for _, peer := range p.peers {
		p.checkBan(peer, now)
		if peer.borrowed || peer.isBanned {
			continue
		}
		if peer.client == nil && peer.nextAttempt.After(now) {
			continue
		}
		peer.borrowed = true
		toRefresh = append(toRefresh, peer)
	}
	p.lock.Unlock()

	var wg sync.WaitGroup
	for _, peer := range toRefresh {
		peer := peer
		wg.Add(1)
		spawn("PeerPool.refreshPeer", func() {
			defer wg.Done()
			p.refreshPeer(ctx, peer)
		})
	}
	wg.Wait()
}

// refreshPeer runs with peer marked as borrowed, so it owns peer.client.
func (p *PeerPool) refreshPeer(ctx context.Context, peer *peerState) {
	client := peer.client
	if client == nil {
		log.Debugf("Connecting to %s", peer.address)
		var err error
		client, err = p.cfg.Connect(peer.address)
		if err != nil {
			log.Infof("Couldn't connect to %s: %s", peer.address, err)
			p.lock.Lock()
			defer p.lock.Unlock()
			p.scheduleRetry(peer)
			peer.borrowed = false
			return
		}
	}

	infoCtx, cancel := context.WithTimeout(ctx, p.cfg.InfoTimeout)
	err := client.RefreshInfo(infoCtx)
	cancel()

	p.lock.Lock()
	defer p.lock.Unlock()
	peer.client = client
	peer.borrowed = false
	if peer.closeOnReturn {
		peer.closeOnReturn = false
		p.disconnect(peer)
		return
	}
	if err != nil {
		log.Infof("Couldn't get the chain info of %s: %s", peer.address, err)
		if protocolerrors.ShouldBan(err) {
			p.ban(peer)
			return
		}
		p.disconnect(peer)
		p.scheduleRetry(peer)
		return
	}
	peer.hasInfo = true
	peer.retryDuration = 0
	log.Debugf("Peer %s has cumulative difficulty %s", peer.address, client.CumulativeDifficulty())
}

func (p *PeerPool) scheduleRetry(peer *peerState) {
	peer.retryDuration = nextRetryDuration(peer.retryDuration)
	peer.nextAttempt = p.timeNow().Add(peer.retryDuration)
	log.Debugf("Retrying the connection to %s in %s", peer.address, peer.retryDuration)
}

func (p *PeerPool) disconnect(peer *peerState) {
	if peer.client == nil {
		return
	}
	err := peer.client.Close()
	if err != nil {
		log.Debugf("Error closing the connection to %s: %s", peer.address, err)
	}
	peer.client = nil
	peer.hasInfo = false
}

func (p *PeerPool) ban(peer *peerState) {
	log.Infof("Banning peer %s for %s", peer.address, p.cfg.BanDuration)
	peer.isBanned = true
	peer.bannedAt = p.timeNow()
	if peer.borrowed {
		peer.closeOnReturn = true
		return
	}
	p.disconnect(peer)
}

// checkBan lifts an expired ban.
func (p *PeerPool) checkBan(peer *peerState, now time.Time) {
	if peer.isBanned && !now.Before(peer.bannedAt.Add(p.cfg.BanDuration)) {
		log.Infof("The ban of peer %s expired", peer.address)
		peer.isBanned = false
	}
}

// BorrowClientsForSync lends out every connected peer that is not lent
// out or banned and claims more cumulative difficulty than
// minCumulativeDifficulty.
func (p *PeerPool) BorrowClientsForSync(minCumulativeDifficulty model.Difficulty) []blockdownloader.PeerClient {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := p.timeNow()
	var clients []blockdownloader.PeerClient
	for _, peer := range p.peers {
		p.checkBan(peer, now)
		if peer.client == nil || !peer.hasInfo || peer.borrowed || peer.isBanned {
			continue
		}
		if peer.client.CumulativeDifficulty().Cmp(minCumulativeDifficulty) <= 0 {
			continue
		}
		peer.borrowed = true
		clients = append(clients, peer.client)
	}
	return clients
}

// ReturnClient takes back a client lent out by BorrowClientsForSync.
func (p *PeerPool) ReturnClient(client blockdownloader.PeerClient) {
	p.lock.Lock()
	defer p.lock.Unlock()

	peer, ok := p.byID[client.ID()]
	if !ok || !peer.borrowed {
		log.Warnf("Peer %s was returned but is not lent out", client.ID())
		return
	}
	peer.borrowed = false
	if peer.closeOnReturn {
		peer.closeOnReturn = false
		p.disconnect(peer)
	}
}

// BanPeer stops lending out the peer with id for the ban duration.
func (p *PeerPool) BanPeer(id blockdownloader.PeerID) {
	p.lock.Lock()
	defer p.lock.Unlock()

	peer, ok := p.byID[id]
	if !ok {
		return
	}
	p.ban(peer)
}

// IsBanned reports whether the peer with id is banned.
func (p *PeerPool) IsBanned(id blockdownloader.PeerID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	peer, ok := p.byID[id]
	if !ok {
		return false
	}
	p.checkBan(peer, p.timeNow())
	return peer.isBanned
}

// ConnectedCount returns the number of peers with an open connection.
func (p *PeerPool) ConnectedCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	count := 0
	for _, peer := range p.peers {
		if peer.client != nil {
			count++
		}
	}
	return count
}
