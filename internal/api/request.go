package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/star/driftcast/internal/descent"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/httputil"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/sites"
	"github.com/star/driftcast/internal/weathercock"
)

const maxBodyBytes = 64 << 10

var modelPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// predictionRequest is the wire form of a launch request. Either Site or
// both Lat and Lon must be given.
type predictionRequest struct {
	Site             string            `json:"site,omitempty"`
	Lat              *float64          `json:"lat,omitempty"`
	Lon              *float64          `json:"lon,omitempty"`
	StartHour        int               `json:"start_hour"`
	EndHour          int               `json:"end_hour"`
	ApogeeFt         float64           `json:"apogee_ft"`
	MainRateFPS      float64           `json:"main_rate_fps"`
	DrogueRateFPS    float64           `json:"drogue_rate_fps,omitempty"`
	DeployAltitudeFt float64           `json:"deploy_altitude_ft,omitempty"`
	Weathercock      *weathercockTable `json:"weathercock,omitempty"`
	Model            string            `json:"model,omitempty"`
}

// weathercockTable holds rows at 0, 5, 10, 15 (and 20) mph ground wind.
type weathercockTable struct {
	DisplacementsFt []float64 `json:"displacements_ft"`
	ApogeesFt       []float64 `json:"apogees_ft"`
}

func badRequest(format string, args ...any) error {
	return httputil.Errorf(http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// decodePredictionBody reads a JSON prediction request from the body.
func decodePredictionBody(w http.ResponseWriter, r *http.Request) (predictionRequest, error) {
	var pr predictionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pr); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return pr, httputil.Errorf(http.StatusRequestEntityTooLarge, "request body too large", err)
		}
		return pr, httputil.Errorf(http.StatusBadRequest, "invalid JSON body", err)
	}
	return pr, nil
}

// parsePredictionQuery reads a prediction request from query parameters.
// The weathercock table is given as comma-separated
// weathercock_displacements and weathercock_apogees lists.
func parsePredictionQuery(q url.Values) (predictionRequest, error) {
	pr := predictionRequest{
		Site:  q.Get("site"),
		Model: q.Get("model"),
	}

	var err error
	if pr.Lat, err = optionalFloat(q, "lat"); err != nil {
		return pr, err
	}
	if pr.Lon, err = optionalFloat(q, "lon"); err != nil {
		return pr, err
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"start_hour", &pr.StartHour},
		{"end_hour", &pr.EndHour},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return pr, badRequest("%s must be an integer", p.name)
		}
		*p.dst = n
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"apogee_ft", &pr.ApogeeFt},
		{"main_rate_fps", &pr.MainRateFPS},
		{"drogue_rate_fps", &pr.DrogueRateFPS},
		{"deploy_altitude_ft", &pr.DeployAltitudeFt},
	}
	for _, p := range floats {
		v, err := optionalFloat(q, p.name)
		if err != nil {
			return pr, err
		}
		if v != nil {
			*p.dst = *v
		}
	}

	disp, err := floatList(q, "weathercock_displacements")
	if err != nil {
		return pr, err
	}
	apogees, err := floatList(q, "weathercock_apogees")
	if err != nil {
		return pr, err
	}
	if disp != nil || apogees != nil {
		pr.Weathercock = &weathercockTable{DisplacementsFt: disp, ApogeesFt: apogees}
	}

	return pr, nil
}

func optionalFloat(q url.Values, name string) (*float64, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, badRequest("%s must be a number", name)
	}
	return &f, nil
}

func floatList(q url.Values, name string) ([]float64, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, badRequest("%s must be a comma-separated list of numbers", name)
		}
		out = append(out, f)
	}
	return out, nil
}

// resolver turns wire requests into validated launch requests, looking up
// named sites in the store.
type resolver struct {
	sites    sites.Store
	maxHours int
}

func (rv *resolver) resolve(ctx context.Context, pr predictionRequest) (launch.Request, error) {
	req := launch.Request{
		Window:   launch.Window{StartHour: pr.StartHour, EndHour: pr.EndHour},
		ApogeeFt: pr.ApogeeFt,
		Model:    pr.Model,
	}

	hasCoords := pr.Lat != nil || pr.Lon != nil
	switch {
	case pr.Site != "" && hasCoords:
		return req, badRequest("give either site or lat/lon, not both")
	case pr.Site != "":
		if err := sites.ValidateName(pr.Site); err != nil {
			return req, httputil.Errorf(http.StatusBadRequest, "invalid site name", err)
		}
		s, err := rv.sites.Get(ctx, pr.Site)
		if errors.Is(err, sites.ErrNotFound) {
			return req, httputil.Errorf(http.StatusNotFound, "unknown site "+pr.Site, err)
		}
		if err != nil {
			return req, fmt.Errorf("looking up site %q: %w", pr.Site, err)
		}
		req.SiteName = s.Name
		req.Site = s.Location
	case pr.Lat != nil && pr.Lon != nil:
		p, err := geo.NewPoint(*pr.Lat, *pr.Lon)
		if err != nil {
			return req, httputil.Errorf(http.StatusBadRequest, err.Error(), err)
		}
		req.Site = p
	default:
		return req, badRequest("site or lat/lon is required")
	}

	if pr.Model != "" && !modelPattern.MatchString(pr.Model) {
		return req, badRequest("invalid model %q", pr.Model)
	}

	var err error
	if pr.DrogueRateFPS > 0 || pr.DeployAltitudeFt > 0 {
		req.Recovery, err = descent.NewDualRecovery(pr.MainRateFPS, pr.DrogueRateFPS, pr.DeployAltitudeFt)
	} else {
		req.Recovery, err = descent.NewRecovery(pr.MainRateFPS)
	}
	if err != nil {
		return req, httputil.Errorf(http.StatusBadRequest, err.Error(), err)
	}

	if pr.Weathercock != nil {
		req.Weathercock, err = weathercock.NewTable(pr.Weathercock.DisplacementsFt, pr.Weathercock.ApogeesFt)
		if err != nil {
			return req, httputil.Errorf(http.StatusBadRequest, err.Error(), err)
		}
	}

	if err := req.Validate(rv.maxHours); err != nil {
		return req, httputil.Errorf(http.StatusBadRequest, err.Error(), err)
	}
	return req, nil
}

// resolveQuery is the stream.ResolveFunc for GET requests.
func (rv *resolver) resolveQuery(r *http.Request) (launch.Request, error) {
	pr, err := parsePredictionQuery(r.URL.Query())
	if err != nil {
		return launch.Request{}, err
	}
	return rv.resolve(r.Context(), pr)
}
