package hansard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSittingDate_Fixture(t *testing.T) {
	d, err := SittingDate(loadFixture(t, "sitting_en.xml"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, 6, 5, 0, 0, 0, 0, time.UTC), d)
}

func TestSittingDate_FallsBackToLaterDocuments(t *testing.T) {
	en, err := ParseDocument(strings.NewReader(`<Hansard><HansardBody/></Hansard>`))
	require.NoError(t, err)
	fr, err := ParseDocument(strings.NewReader(`<Hansard><ExtractedInformation>
		<ExtractedItem Name="Date">Le jeudi 1er février 2018</ExtractedItem>
	</ExtractedInformation></Hansard>`))
	require.NoError(t, err)

	d, err := SittingDate(nil, en, fr)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 2, 1, 0, 0, 0, 0, time.UTC), d)
}

func TestSittingDate_Errors(t *testing.T) {
	_, err := SittingDate()
	assert.Error(t, err)

	doc, err := ParseDocument(strings.NewReader(`<Hansard><ExtractedInformation>
		<ExtractedItem Name="Date">sometime in June</ExtractedItem>
	</ExtractedInformation></Hansard>`))
	require.NoError(t, err)
	_, err = SittingDate(doc)
	assert.Error(t, err)
}
