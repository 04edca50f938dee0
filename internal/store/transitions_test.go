package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

func TestCheckTransition(t *testing.T) {
	const (
		unset      = models.StatusUnset
		processing = models.StatusProcessing
		packaged   = models.StatusPackaged
		failed     = models.StatusPackagingFailed
	)
	valid := map[[2]models.Status]bool{
		{unset, processing}:      true,
		{processing, packaged}:   true,
		{processing, failed}:     true,
		{processing, processing}: true,
		{packaged, packaged}:     true,
		{failed, failed}:         true,
	}
	all := []models.Status{unset, processing, packaged, failed}
	for _, from := range all {
		for _, to := range all {
			err := CheckTransition(from, to)
			if valid[[2]models.Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", statusName(from), statusName(to))
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", statusName(from), statusName(to))
			}
		}
	}
}

func TestCheckClaim(t *testing.T) {
	assert.NoError(t, CheckClaim(models.StatusUnset))
	for _, s := range []models.Status{models.StatusProcessing, models.StatusPackaged, models.StatusPackagingFailed} {
		assert.ErrorIs(t, CheckClaim(s), ErrInvalidTransition)
	}
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "UNSET", statusName(models.StatusUnset))
	assert.Equal(t, "PACKAGING", statusName(models.StatusProcessing))
	assert.Equal(t, "PACKAGING_FAILED", statusName(models.StatusPackagingFailed))
}

func TestTimeRoundTripKeepsOrder(t *testing.T) {
	early := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	late := early.Add(time.Nanosecond * 10)

	assert.Less(t, formatTime(early), formatTime(late))
	parsed, err := parseTime(formatTime(early))
	require.NoError(t, err)
	assert.True(t, early.Equal(parsed))

	legacy, err := parseTime("2024-01-02T03:04:05+02:00")
	require.NoError(t, err)
	assert.Equal(t, 1, legacy.UTC().Hour())
}

func TestParseDecisionDate(t *testing.T) {
	date, err := parseDecisionDate("2024-05-27T00:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC), date)

	_, err = parseDecisionDate("27/05/2024")
	assert.Error(t, err)
	_, err = parseDecisionDate("2024")
	assert.Error(t, err)
}

func TestValidateDossier(t *testing.T) {
	d := models.Dossier{
		URI: "u", ID: "i", Graph: "g", DecisionTypeLabel: "l",
		OrganizationName: "n", OrganizationClassification: "c", OrganizationKBO: "k",
	}
	assert.NoError(t, validateDossier(d))

	d.OrganizationKBO = " "
	d.DecisionTypeLabel = ""
	err := validateDossier(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decisionTypeLabel, organizationKbo")
}
