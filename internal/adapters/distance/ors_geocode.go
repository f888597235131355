package distance

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode resolves one address with /geocode/search, taking the best match.
// Every failure, including an empty result, is a *domain.GeocodeError.
func (o *ORSClient) Geocode(ctx context.Context, address string) (_ domain.Coordinates, err error) {
	defer obs.Time(ctx, "ors.geocode")(&err)

	text := strings.Join(strings.Fields(address), " ")
	if text == "" {
		return domain.Coordinates{}, &domain.GeocodeError{Address: address, Cause: errors.New("empty address")}
	}

	q := url.Values{}
	q.Set("text", text)
	if o.country != "" {
		q.Set("boundary.country", o.country)
	}
	q.Set("size", "1")

	var decoded geocodeResponse
	call := orsCall{method: http.MethodGet, path: "/geocode/search", query: q}
	if err := o.call(ctx, call, &decoded); err != nil {
		return domain.Coordinates{}, &domain.GeocodeError{Address: address, Cause: err}
	}

	if len(decoded.Features) == 0 {
		return domain.Coordinates{}, &domain.GeocodeError{Address: address}
	}

	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return domain.Coordinates{}, &domain.GeocodeError{
			Address: address,
			Cause:   fmt.Errorf("invalid coordinate format %v", coords),
		}
	}

	return domain.Coordinates{Lon: coords[0], Lat: coords[1]}, nil
}
