package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

func extPrice(pounds int64) *model.Money {
	m := model.FromPounds(pounds)
	return &m
}

func TestCoreMandateApplies(t *testing.T) {
	assert.True(t, CoreMandateApplies(10, model.SessionJune))
	assert.False(t, CoreMandateApplies(10, model.SessionNovember))
	assert.False(t, CoreMandateApplies(10, model.SessionJanuary))
	assert.False(t, CoreMandateApplies(9, model.SessionJune))
	assert.False(t, CoreMandateApplies(11, model.SessionJune))
}

func TestRequiredCoreSubjectIDs(t *testing.T) {
	catalog := []model.Subject{
		{ID: 1, IsCore: true, IsActive: true},
		{ID: 2, IsCore: true, IsActive: false}, // retired core subject is not required
		{ID: 3, IsCore: false, IsActive: true},
		{ID: 4, IsCore: true, IsActive: true},
	}

	required := RequiredCoreSubjectIDs(10, model.SessionJune, catalog)
	assert.Equal(t, map[uint64]struct{}{1: {}, 4: {}}, required)

	assert.Empty(t, RequiredCoreSubjectIDs(10, model.SessionNovember, catalog))
	assert.Empty(t, RequiredCoreSubjectIDs(9, model.SessionJune, catalog))
}

func TestValidateCoreCompleteness(t *testing.T) {
	required := map[uint64]struct{}{1: {}, 2: {}}

	assert.True(t, ValidateCoreCompleteness(required, map[uint64]struct{}{1: {}, 2: {}, 7: {}}))
	assert.False(t, ValidateCoreCompleteness(required, map[uint64]struct{}{1: {}, 7: {}}))
	assert.True(t, ValidateCoreCompleteness(map[uint64]struct{}{}, map[uint64]struct{}{}))
}

func TestIsLocked(t *testing.T) {
	assert.True(t, IsLocked(true, 10, model.SessionJune))
	assert.False(t, IsLocked(false, 10, model.SessionJune))
	assert.False(t, IsLocked(true, 11, model.SessionJune))
	assert.False(t, IsLocked(true, 10, model.SessionNovember))
}

func TestPriceOf(t *testing.T) {
	withExternal := model.Subject{PriceInSchool: model.FromPounds(500), PriceExternal: extPrice(800)}
	inSchoolOnly := model.Subject{PriceInSchool: model.FromPounds(500)}

	p, err := PriceOf(withExternal, model.TypeInSchool)
	require.NoError(t, err)
	assert.Equal(t, model.FromPounds(500), p)

	p, err = PriceOf(withExternal, model.TypeExternal)
	require.NoError(t, err)
	assert.Equal(t, model.FromPounds(800), p)

	_, err = PriceOf(inSchoolOnly, model.TypeExternal)
	assert.ErrorIs(t, err, repository.ErrExternalNotAvailable)
}

func TestSwapDelta(t *testing.T) {
	// Upgrade: EGP 500 subject swapped for an EGP 800 one costs 300 more.
	assert.Equal(t, model.FromPounds(300), SwapDelta(model.FromPounds(500), model.FromPounds(800)))
	// Downgrade refunds the difference.
	assert.Equal(t, model.FromPounds(-500), SwapDelta(model.FromPounds(1200), model.FromPounds(700)))
	// Equal prices swap for free.
	assert.Equal(t, model.Money(0), SwapDelta(model.FromPounds(600), model.FromPounds(600)))
}
