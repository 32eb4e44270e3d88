package timing_test

import (
	"time"

	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

func (s *EngineSuite) signup(raceID int64, bib int) tracker.Runner {
	r, err := s.store.CreateRunner(s.ctx, tracker.Runner{
		RaceID: raceID, FirstName: "Luz", LastName: "Huamán", Gender: tracker.GenderFemale,
	})
	s.Require().NoError(err)
	if bib > 0 {
		s.Require().NoError(s.store.SetRunnerNumber(s.ctx, r.ID, bib))
	}
	return r
}

func (s *EngineSuite) TestAssignTagUpsertCreatesTag() {
	race := s.newRace(1, 0)
	r := s.signup(race.ID, 42)

	a, err := s.engine.AssignTag(s.ctx, race.ID, 42, "e2801170", timing.TagUpsert)
	s.Require().NoError(err)
	s.True(a.TagCreated)
	s.Equal("E2801170", a.Tag.RFIDHex)
	s.Equal(r.ID, a.Runner.ID)
	s.Equal(a.Tag.ID, *s.reload(r.ID).TagID)

	again, err := s.engine.AssignTag(s.ctx, race.ID, 42, "E2801170", timing.TagUpsert)
	s.Require().NoError(err)
	s.False(again.TagCreated)
	s.Equal(a.Tag.ID, again.Tag.ID)
}

func (s *EngineSuite) TestAssignTagStrictRequiresKnownTag() {
	race := s.newRace(1, 0)
	s.signup(race.ID, 7)

	_, err := s.engine.AssignTag(s.ctx, race.ID, 7, "ABC123", timing.TagStrict)
	s.ErrorIs(err, tracker.ErrTagNotFound)

	_, err = s.store.CreateTag(s.ctx, "ABC123")
	s.Require().NoError(err)
	a, err := s.engine.AssignTag(s.ctx, race.ID, 7, "abc123", timing.TagStrict)
	s.Require().NoError(err)
	s.False(a.TagCreated)
}

func (s *EngineSuite) TestAssignTagRefusesTagHeldInRace() {
	race := s.newRace(1, 0)
	s.signup(race.ID, 1)
	s.signup(race.ID, 2)

	_, err := s.engine.AssignTag(s.ctx, race.ID, 1, "A1", timing.TagUpsert)
	s.Require().NoError(err)
	for _, mode := range []timing.TagMode{timing.TagUpsert, timing.TagStrict} {
		_, err = s.engine.AssignTag(s.ctx, race.ID, 2, "A1", mode)
		s.ErrorIs(err, tracker.ErrTagInUse)
	}

	// The same tag is free in another race.
	other := s.newRace(1, 0)
	s.signup(other.ID, 3)
	_, err = s.engine.AssignTag(s.ctx, other.ID, 3, "A1", timing.TagStrict)
	s.NoError(err)
}

func (s *EngineSuite) TestAssignTagReplacesRunnersTag() {
	race := s.startedRace(1, 0)
	r := s.signup(race.ID, 5)

	_, err := s.engine.AssignTag(s.ctx, race.ID, 5, "B1", timing.TagUpsert)
	s.Require().NoError(err)
	_, err = s.engine.AssignTag(s.ctx, race.ID, 5, "B2", timing.TagUpsert)
	s.Require().NoError(err)

	old := s.cross("B1", race.ID, 0)
	s.Equal(timing.KindRunnerNotFound, old.Error)
	res := s.cross("B2", race.ID, 25*time.Minute)
	s.Equal(r.ID, res.RunnerID)
}

func (s *EngineSuite) TestAssignTagValidation() {
	race := s.newRace(1, 0)
	s.signup(race.ID, 9)

	_, err := s.engine.AssignTag(s.ctx, race.ID, 9, "  ", timing.TagUpsert)
	s.ErrorIs(err, tracker.ErrMissingField)
	_, err = s.engine.AssignTag(s.ctx, race.ID, 9, "XYZ", timing.TagUpsert)
	s.ErrorIs(err, tracker.ErrInvalidTag)
	_, err = s.engine.AssignTag(s.ctx, race.ID, 10, "AA", timing.TagUpsert)
	s.ErrorIs(err, tracker.ErrRunnerNotFound)
	_, err = s.engine.AssignTag(s.ctx, 999, 9, "AA", timing.TagUpsert)
	s.ErrorIs(err, tracker.ErrRaceNotFound)
}

func (s *EngineSuite) TestAssignNumbers() {
	race, err := s.store.CreateRace(s.ctx, tracker.Race{
		Name: "Lima 5K", DistanceMeters: 5000, LapsCount: 1, NumberStart: 100,
	})
	s.Require().NoError(err)
	elsewhere := s.newRace(1, 0)

	s.signup(elsewhere.ID, 101)
	kept := s.signup(race.ID, 250)
	first := s.signup(race.ID, 0)
	second := s.signup(race.ID, 0)
	third := s.signup(race.ID, 0)

	got, err := s.engine.AssignNumbers(s.ctx, race.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal(timing.NumberAssignment{RunnerID: first.ID, Name: first.Name(), Number: 100}, got[0])
	s.Equal(second.ID, got[1].RunnerID)
	s.Equal(102, got[1].Number)
	s.Equal(third.ID, got[2].RunnerID)
	s.Equal(103, got[2].Number)
	s.Equal(250, *s.reload(kept.ID).Number)

	again, err := s.engine.AssignNumbers(s.ctx, race.ID)
	s.Require().NoError(err)
	s.Empty(again)
}
