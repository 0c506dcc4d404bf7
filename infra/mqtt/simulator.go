package mqtt

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/repairdispatch/core/logger"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
)

// Strategy decides how a simulated master answers an offer. An empty action
// means the offer is ignored and left to expire.
type Strategy interface {
	Decide(offer coremqtt.Offer) (action, reason string)
}

// FixedStrategy always answers with the same action.
type FixedStrategy struct {
	Action string
	Reason string
}

// Decide implements Strategy.
func (f FixedStrategy) Decide(coremqtt.Offer) (string, string) { return f.Action, f.Reason }

// RandomStrategy accepts with AcceptRate, rejects with RejectRate and
// ignores the remaining offers.
type RandomStrategy struct {
	AcceptRate float64
	RejectRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStrategy returns a RandomStrategy seeded with seed.
func NewRandomStrategy(accept, reject float64, seed int64) *RandomStrategy {
	return &RandomStrategy{AcceptRate: accept, RejectRate: reject, rng: rand.New(rand.NewSource(seed))}
}

// Decide implements Strategy.
func (r *RandomStrategy) Decide(coremqtt.Offer) (string, string) {
	r.mu.Lock()
	v := r.rng.Float64()
	r.mu.Unlock()
	switch {
	case v < r.AcceptRate:
		return coremqtt.ActionAccept, ""
	case v < r.AcceptRate+r.RejectRate:
		return coremqtt.ActionReject, "simulated decline"
	default:
		return "", ""
	}
}

// Simulator plays the role of repair masters: it listens on every offer
// topic and answers according to its Strategy after Delay.
type Simulator struct {
	pub      coremqtt.Publisher
	strategy Strategy
	delay    time.Duration
	qos      byte
	logger   logger.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// NewSimulator returns a simulator answering through pub.
func NewSimulator(pub coremqtt.Publisher, strategy Strategy, delay time.Duration, qos byte, log logger.Logger) *Simulator {
	return &Simulator{pub: pub, strategy: strategy, delay: delay, qos: qos, logger: log, ctx: context.Background()}
}

// Run subscribes to offers through cli and blocks until ctx is done.
func (s *Simulator) Run(ctx context.Context, cli *PahoClient) error {
	s.ctx = ctx
	err := cli.Subscribe(coremqtt.OffersWildcard, cli.qosFor(coremqtt.QoSOffer), func(_ string, payload []byte) {
		s.HandleOffer(payload)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// HandleOffer schedules the answer to one offer payload.
func (s *Simulator) HandleOffer(payload []byte) {
	var offer coremqtt.Offer
	if err := json.Unmarshal(payload, &offer); err != nil {
		s.logger.Warnf("decode offer: %v", err)
		return
	}
	action, reason := s.strategy.Decide(offer)
	if action == "" {
		s.logger.Infof("master %s ignores offer %s", offer.MasterID, offer.AssignmentID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-s.ctx.Done():
				return
			}
		}
		s.respond(offer, action, reason)
	}()
}

// Wait blocks until every scheduled answer has been sent.
func (s *Simulator) Wait() { s.wg.Wait() }

func (s *Simulator) respond(offer coremqtt.Offer, action, reason string) {
	payload, err := json.Marshal(coremqtt.Response{
		AssignmentID: offer.AssignmentID,
		MasterID:     offer.MasterID,
		Action:       action,
		Reason:       reason,
	})
	if err != nil {
		s.logger.Errorf("marshal response: %v", err)
		return
	}
	if err := s.pub.Publish(coremqtt.ResponseTopic(offer.MasterID), s.qos, payload); err != nil {
		s.logger.Errorf("publish response for %s: %v", offer.AssignmentID, err)
		return
	}
	s.logger.Infof("master %s answered %s to %s", offer.MasterID, action, offer.AssignmentID)
}
