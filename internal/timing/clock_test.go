package timing_test

import (
	"time"

	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

func (s *EngineSuite) TestStartIsIdempotent() {
	race := s.newRace(1, 0)

	started, err := s.engine.StartRace(s.ctx, race.ID, t0)
	s.Require().NoError(err)
	s.Equal(tracker.RaceInProgress, started.Status)
	s.True(started.StartTime.Equal(t0))

	again, err := s.engine.StartRace(s.ctx, race.ID, t0.Add(10*time.Minute))
	s.Require().NoError(err)
	s.True(again.StartTime.Equal(t0), "start time moved to %v", again.StartTime)

	stored, err := s.store.RaceByID(s.ctx, race.ID)
	s.Require().NoError(err)
	s.True(stored.StartTime.Equal(t0))
}

func (s *EngineSuite) TestStartDefaultsToClock() {
	race := s.newRace(1, 0)
	s.clock.Advance(90 * time.Second)

	started, err := s.engine.StartRace(s.ctx, race.ID, time.Time{})
	s.Require().NoError(err)
	s.True(started.StartTime.Equal(t0.Add(90 * time.Second)))
}

func (s *EngineSuite) TestOnlyOneRaceInProgress() {
	first := s.startedRace(1, 0)
	second := s.newRace(1, 0)

	_, err := s.engine.StartRace(s.ctx, second.ID, t0)
	s.ErrorIs(err, tracker.ErrAnotherRaceInProgress)

	_, err = s.engine.StopRace(s.ctx, first.ID, t0.Add(time.Hour))
	s.Require().NoError(err)

	started, err := s.engine.StartRace(s.ctx, second.ID, t0.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(tracker.RaceInProgress, started.Status)
}

func (s *EngineSuite) TestStopIsTerminal() {
	race := s.startedRace(1, 0)
	end := t0.Add(time.Hour)

	stopped, err := s.engine.StopRace(s.ctx, race.ID, end)
	s.Require().NoError(err)
	s.Equal(tracker.RaceCompleted, stopped.Status)
	s.True(stopped.EndTime.Equal(end))
	s.True(stopped.StartTime.Equal(t0))

	again, err := s.engine.StopRace(s.ctx, race.ID, end.Add(time.Hour))
	s.Require().NoError(err)
	s.True(again.EndTime.Equal(end))

	restarted, err := s.engine.StartRace(s.ctx, race.ID, end.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(tracker.RaceCompleted, restarted.Status)
	s.True(restarted.StartTime.Equal(t0))
}

func (s *EngineSuite) TestStopRenumbersPlaces() {
	race := s.startedRace(1, 0)
	a, aTag := s.runner(race.ID, tracker.GenderMale)
	b, bTag := s.runner(race.ID, tracker.GenderMale)
	s.cross(aTag, race.ID, 1300*time.Second)
	s.cross(bTag, race.ID, 1250*time.Second)
	s.Require().NoError(s.store.SetPlace(s.ctx, a.ID, 7))

	_, err := s.engine.StopRace(s.ctx, race.ID, t0.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(1, *s.reload(b.ID).Place)
	s.Equal(2, *s.reload(a.ID).Place)
}

func (s *EngineSuite) TestSignupToggle() {
	race := s.newRace(1, 0)

	opened, err := s.engine.SetSignup(s.ctx, race.ID, true)
	s.Require().NoError(err)
	s.Equal(tracker.RaceSignupOpen, opened.Status)

	closed, err := s.engine.SetSignup(s.ctx, race.ID, false)
	s.Require().NoError(err)
	s.Equal(tracker.RaceSignupClosed, closed.Status)

	_, err = s.engine.StartRace(s.ctx, race.ID, t0)
	s.Require().NoError(err)
	ignored, err := s.engine.SetSignup(s.ctx, race.ID, true)
	s.Require().NoError(err)
	s.Equal(tracker.RaceInProgress, ignored.Status)
}

func (s *EngineSuite) TestClockUnknownRace() {
	_, err := s.engine.StartRace(s.ctx, 404, t0)
	s.ErrorIs(err, tracker.ErrRaceNotFound)
	_, err = s.engine.StopRace(s.ctx, 404, t0)
	s.ErrorIs(err, tracker.ErrRaceNotFound)
	_, err = s.engine.SetSignup(s.ctx, 404, true)
	s.ErrorIs(err, tracker.ErrRaceNotFound)
}

func (s *EngineSuite) TestEventsAfterStopStillUseStartTime() {
	race := s.startedRace(1, 0)
	r, rfid := s.runner(race.ID, tracker.GenderFemale)
	_, err := s.engine.StopRace(s.ctx, race.ID, t0.Add(20*time.Minute))
	s.Require().NoError(err)

	// A reader uploading its buffer after the stop still gets timed.
	res := s.cross(rfid, race.ID, 1500*time.Second)
	s.Equal(timing.OutcomeFinished, res.Outcome)
	s.Equal(1500*time.Second, *s.reload(r.ID).TotalRaceTime)
}
