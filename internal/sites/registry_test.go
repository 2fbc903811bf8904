package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryListSites(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	list := r.ListSites()
	require.NotEmpty(t, list)

	seen := make(map[string]bool)
	for _, s := range list {
		require.NotEmpty(t, s.ID)
		require.NotEmpty(t, s.Name)
		require.NotEmpty(t, s.Fields)
		require.NotEmpty(t, s.DefaultFields)
		require.NotEmpty(t, s.WorkerScript)
		require.False(t, seen[s.ID], "duplicate site id %s", s.ID)
		seen[s.ID] = true
	}
	assert.True(t, seen["amazon"])
	assert.True(t, seen["flipkart"])
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, err := r.Lookup("  AmAzOn ")
	require.NoError(t, err)
	assert.Equal(t, "amazon", s.ID)

	_, err = r.Lookup("bobs-discount-emporium")
	require.ErrorIs(t, err, ErrUnknownSite)
}

func TestRegistryFieldsForUnknownSite(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.FieldsFor("nope")
	require.ErrorIs(t, err, ErrUnknownSite)

	_, err = r.DefaultFieldsFor("nope")
	require.ErrorIs(t, err, ErrUnknownSite)
}

func TestRegistryDefaultFieldsAreRegistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, s := range r.ListSites() {
		valid, invalid, err := r.ValidateFields(s.ID, s.DefaultFields)
		require.NoError(t, err)
		assert.Empty(t, invalid, "site %s has unregistered default fields", s.ID)
		assert.Len(t, valid, len(s.DefaultFields))
	}
}

func TestValidateFieldsPartition(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	in := []string{"title", "price", "bogus", "feedback", "nonsense"}
	valid, invalid, err := r.ValidateFields("amazon", in)
	require.NoError(t, err)

	// valid and invalid together cover the input and do not overlap.
	assert.Len(t, valid, 3)
	assert.Len(t, invalid, 2)
	assert.Equal(t, []string{"title", "exact_price", "feedback"}, valid)
	assert.Equal(t, []string{"bogus", "nonsense"}, invalid)
}

func TestValidateFieldsAliases(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	valid, invalid, err := r.ValidateFields("alibaba", []string{"seller", "price", "specs"})
	require.NoError(t, err)
	assert.Empty(t, invalid)
	assert.Equal(t, []string{"supplier", "exact_price", "specifications"}, valid)
}

func TestValidateFieldsSiteSpecific(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	// min_order is a wholesale field; amazon's worker does not extract it.
	_, invalid, err := r.ValidateFields("amazon", []string{"min_order"})
	require.NoError(t, err)
	assert.Equal(t, []string{"min_order"}, invalid)

	valid, _, err := r.ValidateFields("indiamart", []string{"min_order"})
	require.NoError(t, err)
	assert.Equal(t, []string{"min_order"}, valid)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "exact_price", Normalize(" Price "))
	assert.Equal(t, "brand_name", Normalize("brand"))
	assert.Equal(t, "title", Normalize("title"))
}
