package places

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/resilience"
	"github.com/sells-group/rankgrid/pkg/geocode"
	"github.com/sells-group/rankgrid/pkg/google"
	"github.com/sells-group/rankgrid/pkg/google/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeGeocoder struct {
	result *geocode.Result
	err    error
	calls  int
}

func (f *fakeGeocoder) Geocode(_ context.Context, _ string) (*geocode.Result, error) {
	f.calls++
	return f.result, f.err
}

func testConfig() Config {
	return Config{
		RateLimit: 1000,
		Burst:     100,
		Retry:     resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Circuit:   resilience.CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Hour},
	}
}

func TestNearbySearch_MapsPlacesInOrder(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	gc.On("SearchText", mock.Anything, mock.MatchedBy(func(req google.SearchTextRequest) bool {
		return req.TextQuery == "plumber" &&
			req.MaxResultCount == 20 &&
			req.LocationBias != nil &&
			req.LocationBias.Circle.Center.Latitude == 40.1 &&
			req.LocationBias.Circle.Radius == 1500
	})).Return(&google.SearchTextResponse{Places: []google.Place{
		{ID: "a", DisplayName: google.DisplayName{Text: "Alpha"}, Rating: 4.5, UserRatingCount: 80,
			ShortFormattedAddress: "1 Main St", Location: &google.LatLng{Latitude: 40.1, Longitude: -75.1}, BusinessStatus: "OPERATIONAL"},
		{ID: "b", DisplayName: google.DisplayName{Text: "Beta"}, FormattedAddress: "2 Elm St, Town"},
	}}, nil).Once()

	places, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber", Lat: 40.1, Lng: -75.1, RadiusM: 1500})
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "a", places[0].PlaceID)
	assert.Equal(t, "Alpha", places[0].Name)
	assert.Equal(t, 80, places[0].ReviewCount)
	assert.Equal(t, "1 Main St", places[0].Vicinity)
	assert.InDelta(t, -75.1, places[0].Lng, 1e-9)
	assert.Equal(t, "2 Elm St, Town", places[1].Vicinity)
	assert.Zero(t, places[1].Lat)
}

func TestNearbySearch_RetriesTransient(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	gc.On("SearchText", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("503"), 503)).Once()
	gc.On("SearchText", mock.Anything, mock.Anything).
		Return(&google.SearchTextResponse{Places: []google.Place{{ID: "a"}}}, nil).Once()

	places, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber"})
	require.NoError(t, err)
	assert.Len(t, places, 1)
}

func TestNearbySearch_PermanentErrorNotRetried(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	gc.On("SearchText", mock.Anything, mock.Anything).
		Return(nil, errors.New("google: status 400: invalid request")).Once()

	_, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nearby search")
}

func TestNearbySearch_CircuitOpens(t *testing.T) {
	gc := mocks.NewMockClient(t)
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	p := NewGoogleProvider(gc, &fakeGeocoder{}, cfg)

	gc.On("SearchText", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("503"), 503)).Times(3)

	for i := 0; i < 3; i++ {
		_, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber"})
		require.Error(t, err)
	}

	_, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, resilience.CircuitOpen, p.Breakers().States()[OpNearbySearch])
}

func TestNearbySearch_RetriedAttemptsCountOnceTowardCircuit(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	// Two calls exhaust three attempts each: six failed requests, two failed calls.
	gc.On("SearchText", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("503"), 503)).Times(6)
	gc.On("SearchText", mock.Anything, mock.Anything).
		Return(&google.SearchTextResponse{Places: []google.Place{{ID: "a"}}}, nil).Once()

	for i := 0; i < 2; i++ {
		_, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber"})
		require.Error(t, err)
		assert.False(t, errors.Is(err, resilience.ErrCircuitOpen))
	}
	failures, state := p.Breakers().Get(OpNearbySearch).Counters()
	assert.Equal(t, 2, failures)
	assert.Equal(t, resilience.CircuitClosed, state)

	places, err := p.NearbySearch(context.Background(), NearbyRequest{Keyword: "plumber"})
	require.NoError(t, err)
	assert.Len(t, places, 1)
	failures, _ = p.Breakers().Get(OpNearbySearch).Counters()
	assert.Zero(t, failures)
}

func TestFindPlace(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	gc.On("SearchText", mock.Anything, mock.MatchedBy(func(req google.SearchTextRequest) bool {
		return req.TextQuery == "Acme Plumbing" && req.MaxResultCount == 1
	})).Return(&google.SearchTextResponse{Places: []google.Place{
		{ID: "acme", DisplayName: google.DisplayName{Text: "Acme Plumbing"}, Location: &google.LatLng{Latitude: 40, Longitude: -75}},
	}}, nil).Once()

	m, err := p.FindPlace(context.Background(), "Acme Plumbing", 40, -75)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "acme", m.PlaceID)
	assert.Equal(t, "Acme Plumbing", m.Name)
	assert.InDelta(t, 40, m.Lat, 1e-9)
}

func TestFindPlace_NoMatch(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	gc.On("SearchText", mock.Anything, mock.Anything).Return(&google.SearchTextResponse{}, nil).Once()

	m, err := p.FindPlace(context.Background(), "Nobody", 40, -75)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPlaceDetails(t *testing.T) {
	gc := mocks.NewMockClient(t)
	p := NewGoogleProvider(gc, &fakeGeocoder{}, testConfig())

	gc.On("PlaceDetails", mock.Anything, "acme").
		Return(&google.Place{ID: "acme", DisplayName: google.DisplayName{Text: "Acme"}, Rating: 4.2, UserRatingCount: 31}, nil).Once()
	gc.On("PlaceDetails", mock.Anything, "new").
		Return(&google.Place{ID: "new", DisplayName: google.DisplayName{Text: "New Shop"}}, nil).Once()

	d, err := p.PlaceDetails(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, d.Rating)
	require.NotNil(t, d.ReviewCount)
	assert.InDelta(t, 4.2, *d.Rating, 1e-9)
	assert.Equal(t, 31, *d.ReviewCount)

	d, err = p.PlaceDetails(context.Background(), "new")
	require.NoError(t, err)
	assert.Nil(t, d.Rating)
	assert.Nil(t, d.ReviewCount)
}

func TestGeocode(t *testing.T) {
	geo := &fakeGeocoder{result: &geocode.Result{Latitude: 39.95, Longitude: -75.16, FormattedAddress: "Philadelphia, PA", PlaceID: "ChIJ", Matched: true}}
	p := NewGoogleProvider(mocks.NewMockClient(t), geo, testConfig())

	res, err := p.Geocode(context.Background(), "Philadelphia")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 39.95, res.Lat, 1e-9)
	assert.Equal(t, "Philadelphia, PA", res.FormattedAddress)
	assert.Equal(t, "ChIJ", res.PlaceID)
}

func TestGeocode_NoMatch(t *testing.T) {
	geo := &fakeGeocoder{result: &geocode.Result{Matched: false}}
	p := NewGoogleProvider(mocks.NewMockClient(t), geo, testConfig())

	res, err := p.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGeocode_TransientExhaustsRetries(t *testing.T) {
	geo := &fakeGeocoder{err: resilience.NewTransientError(errors.New("OVER_QUERY_LIMIT"), 0)}
	p := NewGoogleProvider(mocks.NewMockClient(t), geo, testConfig())

	_, err := p.Geocode(context.Background(), "anywhere")
	require.Error(t, err)
	assert.Equal(t, 3, geo.calls)
}

func TestCircle_Clamps(t *testing.T) {
	assert.Equal(t, 1000.0, circle(0, 0, 0).Circle.Radius)
	assert.Equal(t, 50000.0, circle(0, 0, 80000).Circle.Radius)
	assert.Equal(t, 2500.0, circle(0, 0, 2500).Circle.Radius)
}
