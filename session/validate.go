package session

import (
	"encoding/json"
	"math"
	"time"

	"deriflow/logger"
	"deriflow/models"
)

// position sizes closer than this are considered equal
const positionTolerance = 1e-9

var positionKinds = []string{"future", "option"}

// validatePositions periodically asks the exchange for open positions and
// compares them against the tracker's view of filled amounts. A mismatch
// means fills were lost or an order bypassed the tracker, so the strategy
// gets told rather than the books being silently corrected.
func (s *Session) validatePositions() {
	defer s.wg.Done()
	log := s.log.WithComponent("session").WithFields(logger.Fields{"worker": "position_validator"})

	interval := s.config.Validation.Interval
	log.WithFields(logger.Fields{
		"interval":   interval.String(),
		"currencies": s.config.Validation.Currencies,
	}).Info("position validator started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.pollCtx.Done():
			log.Info("position validator stopped")
			return
		case <-ticker.C:
			if s.State() != StateSubscribed {
				continue
			}
			s.requestPositions()
		}
	}
}

func (s *Session) requestPositions() {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"worker": "position_validator"})
	for _, ccy := range s.config.Validation.Currencies {
		for _, kind := range positionKinds {
			req := models.GetPositionsRequest(ccy, kind)
			s.expectReply(req.ID, "positions")
			if err := s.Send(req); err != nil {
				s.forgetReply(req.ID)
				log.WithError(err).WithFields(logger.Fields{"currency": ccy, "kind": kind}).
					Warn("failed to request positions")
			}
		}
	}
}

func (s *Session) handlePositionsReply(result json.RawMessage) {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"worker": "position_validator"})

	var positions []models.PositionData
	if err := json.Unmarshal(result, &positions); err != nil {
		log.WithError(err).Warn("failed to decode positions reply")
		return
	}

	for _, pos := range positions {
		tracked := s.tracker.Position(pos.InstrumentName)
		if math.Abs(tracked-pos.Size) <= positionTolerance {
			continue
		}
		log.WithFields(logger.Fields{
			"instrument": pos.InstrumentName,
			"tracked":    tracked,
			"reported":   pos.Size,
		}).Warn("position mismatch")
		s.strategy.OnPositionMismatch(pos.InstrumentName, tracked, pos.Size)
	}
}
