package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("data-migrated")
	require.NoError(t, err)
	assert.Equal(t, PhaseDataMigrated, p)

	p, err = ParsePhase(" production_ready ")
	require.NoError(t, err)
	assert.Equal(t, PhaseProductionReady, p)

	_, err = ParsePhase("done")
	assert.Error(t, err)
}

func TestPhase_Sequence(t *testing.T) {
	phases := Phases()
	require.Len(t, phases, 7)
	assert.Equal(t, PhaseInitial, phases[0])

	for i, p := range phases {
		assert.Equal(t, i, p.Index())
		next, ok := p.Next()
		if i == len(phases)-1 {
			assert.False(t, ok)
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, phases[i+1], next)
	}
	assert.Equal(t, -1, Phase("LATER").Index())
}

func TestStorageCodes_CoverEveryValue(t *testing.T) {
	for _, p := range Phases() {
		code, err := phaseToCode(p)
		require.NoError(t, err, p)
		back, err := phaseFromCode(code)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	}

	for _, s := range []Status{StatusCreated, StatusValidated, StatusActive, StatusSuperseded, StatusFailed} {
		code, err := statusToCode(s)
		require.NoError(t, err, s)
		back, err := statusFromCode(code)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}

	_, err := phaseToCode(Phase("UNKNOWN"))
	assert.Error(t, err)
	_, err = statusFromCode("archived")
	assert.Error(t, err)
}

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, StatusSuperseded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusValidated.Authoritative())
	assert.True(t, StatusActive.Authoritative())
	assert.False(t, StatusCreated.Authoritative())
}

func TestCompare_CountsBlockChecksumsDoNot(t *testing.T) {
	recorded := Metadata{
		TableCounts:    map[string]int64{"orders": 100, "legacy": 5},
		TableChecksums: map[string]string{"orders": "abc"},
		Users:          Counts{Total: 3},
		Files:          Counts{Total: 4},
	}
	current := Metadata{
		TableCounts:    map[string]int64{"orders": 100},
		TableChecksums: map[string]string{"orders": "def"},
		Users:          Counts{Total: 3},
		Files:          Counts{Total: 4},
	}

	checks := compare(recorded, current)
	failed := FailedChecks(checks)
	require.Len(t, failed, 1)
	assert.Equal(t, "table:legacy", failed[0].Name)
	assert.Equal(t, "missing", failed[0].Actual)

	assert.Empty(t, FailedChecks(compare(recorded, recorded)))
}
