package places

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/rankgrid/internal/rank"
	"github.com/sells-group/rankgrid/internal/resilience"
	"github.com/sells-group/rankgrid/pkg/geocode"
	"github.com/sells-group/rankgrid/pkg/google"
)

// Operation names, also used as circuit breaker keys.
const (
	OpGeocode      = "geocode"
	OpFindPlace    = "find_place"
	OpNearbySearch = "nearby_search"
	OpPlaceDetails = "place_details"
)

// findPlaceRadiusM biases FindPlace to the business's own neighborhood.
const findPlaceRadiusM = 5000

// Config tunes the Google provider.
type Config struct {
	RateLimit float64 // requests per second across all operations
	Burst     int
	Retry     resilience.RetryConfig
	Circuit   resilience.CircuitBreakerConfig
}

// GoogleProvider implements Provider on the Places API (v1) and the Geocoding API.
type GoogleProvider struct {
	places   google.Client
	geocoder geocode.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
}

// NewGoogleProvider wires the API clients with rate limiting, retries, and
// per-operation circuit breakers.
func NewGoogleProvider(places google.Client, geocoder geocode.Client, cfg Config) *GoogleProvider {
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	circuit := cfg.Circuit
	if circuit.ShouldTrip == nil {
		circuit.ShouldTrip = resilience.IsTransient
	}

	return &GoogleProvider{
		places:   places,
		geocoder: geocoder,
		limiter:  rate.NewLimiter(rate.Limit(rateLimit), burst),
		retry:    cfg.Retry,
		breakers: resilience.NewServiceBreakers(circuit, func(op string, from, to resilience.CircuitState) {
			zap.L().Warn("places: circuit state change",
				zap.String("operation", op),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	}
}

// NewGoogleProviderFromKey builds the API clients from a single key.
func NewGoogleProviderFromKey(apiKey string, hc *http.Client, cfg Config) *GoogleProvider {
	var gopts []google.Option
	var geoopts []geocode.Option
	if hc != nil {
		gopts = append(gopts, google.WithHTTPClient(hc))
		geoopts = append(geoopts, geocode.WithHTTPClient(hc))
	}
	return NewGoogleProvider(google.NewClient(apiKey, gopts...), geocode.NewClient(apiKey, geoopts...), cfg)
}

// Breakers exposes circuit states for health reporting.
func (p *GoogleProvider) Breakers() *resilience.ServiceBreakers {
	return p.breakers
}

// call retries transient failures of fn under the operation's breaker. The
// breaker records one outcome per call, after retries are spent, so it only
// opens on consecutive failed calls. Each attempt waits for the shared rate
// limiter.
func call[T any](ctx context.Context, p *GoogleProvider, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("google", op)
	cb := p.breakers.Get(op)

	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
			if err := p.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrap(err, "places: rate limit wait")
			}
			return fn(ctx)
		})
	})
}

// Geocode resolves an address. Unmatched addresses return nil.
func (p *GoogleProvider) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	res, err := call(ctx, p, OpGeocode, func(ctx context.Context) (*geocode.Result, error) {
		return p.geocoder.Geocode(ctx, address)
	})
	if err != nil {
		return nil, eris.Wrap(err, "places: geocode")
	}
	if res == nil || !res.Matched {
		return nil, nil
	}
	return &GeocodeResult{
		Lat:              res.Latitude,
		Lng:              res.Longitude,
		FormattedAddress: res.FormattedAddress,
		PlaceID:          res.PlaceID,
	}, nil
}

// FindPlace returns the top listing for name near (lat, lng), or nil.
func (p *GoogleProvider) FindPlace(ctx context.Context, name string, lat, lng float64) (*PlaceMatch, error) {
	resp, err := call(ctx, p, OpFindPlace, func(ctx context.Context) (*google.SearchTextResponse, error) {
		return p.places.SearchText(ctx, google.SearchTextRequest{
			TextQuery:      name,
			LocationBias:   circle(lat, lng, findPlaceRadiusM),
			MaxResultCount: 1,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "places: find place")
	}
	if resp == nil || len(resp.Places) == 0 || resp.Places[0].ID == "" {
		return nil, nil
	}

	top := resp.Places[0]
	m := &PlaceMatch{PlaceID: top.ID, Name: top.DisplayName.Text}
	if top.Location != nil {
		m.Lat, m.Lng = top.Location.Latitude, top.Location.Longitude
	}
	return m, nil
}

// NearbySearch runs the keyword query around a grid point. Results keep the
// provider's relevance order.
func (p *GoogleProvider) NearbySearch(ctx context.Context, req NearbyRequest) ([]rank.Place, error) {
	resp, err := call(ctx, p, OpNearbySearch, func(ctx context.Context) (*google.SearchTextResponse, error) {
		return p.places.SearchText(ctx, google.SearchTextRequest{
			TextQuery:      req.Keyword,
			LocationBias:   circle(req.Lat, req.Lng, req.RadiusM),
			MaxResultCount: rank.MaxResults,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "places: nearby search")
	}
	if resp == nil {
		return nil, nil
	}

	out := make([]rank.Place, 0, len(resp.Places))
	for _, pl := range resp.Places {
		out = append(out, toRankPlace(pl))
	}
	return out, nil
}

// PlaceDetails fetches rating and review count for a listing, or nil.
func (p *GoogleProvider) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	pl, err := call(ctx, p, OpPlaceDetails, func(ctx context.Context) (*google.Place, error) {
		return p.places.PlaceDetails(ctx, placeID)
	})
	if err != nil {
		return nil, eris.Wrap(err, "places: place details")
	}
	if pl == nil {
		return nil, nil
	}

	d := &PlaceDetails{PlaceID: pl.ID, Name: pl.DisplayName.Text, BusinessStatus: pl.BusinessStatus}
	if pl.Rating > 0 {
		rating := pl.Rating
		d.Rating = &rating
	}
	if pl.Rating > 0 || pl.UserRatingCount > 0 {
		reviews := pl.UserRatingCount
		d.ReviewCount = &reviews
	}
	return d, nil
}

func circle(lat, lng, radiusM float64) *google.LocationBias {
	if radiusM <= 0 {
		radiusM = 1000
	}
	// The Places API caps circle radius at 50 km.
	if radiusM > 50000 {
		radiusM = 50000
	}
	return &google.LocationBias{Circle: google.Circle{
		Center: google.LatLng{Latitude: lat, Longitude: lng},
		Radius: radiusM,
	}}
}

func toRankPlace(pl google.Place) rank.Place {
	rp := rank.Place{
		PlaceID:        pl.ID,
		Name:           pl.DisplayName.Text,
		Rating:         pl.Rating,
		ReviewCount:    pl.UserRatingCount,
		Vicinity:       pl.ShortFormattedAddress,
		BusinessStatus: pl.BusinessStatus,
	}
	if rp.Vicinity == "" {
		rp.Vicinity = pl.FormattedAddress
	}
	if pl.Location != nil {
		rp.Lat, rp.Lng = pl.Location.Latitude, pl.Location.Longitude
	}
	return rp
}
