package envoy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/envoymon/internal/errors"
	"codeberg.org/mutker/envoymon/internal/logger"
)

const (
	productionPath = "/production.json"
	productionV1   = "/api/v1/production"
	invertersPath  = "/api/v1/production/inverters"
	ensemblePath   = "/ivp/ensemble/inventory"
	homePath       = "/home.json"
)

type ClientConfig struct {
	Host     string
	Token    string
	Username string
	Password string
}

// Client polls a gateway over HTTPS and implements Fetcher.
type Client struct {
	baseURL  string
	token    string
	username string
	password string
	http     *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	errFactory := errors.New()

	if cfg.Host == "" {
		return nil, errFactory.New(ErrMissingHost)
	}
	if cfg.Username != "" && cfg.Password == "" {
		return nil, errFactory.New(ErrMissingCredentials)
	}

	baseURL := cfg.Host
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	transport := &http.Transport{
		//nolint:gosec // G402: the gateway serves a self-signed certificate
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		baseURL:  baseURL,
		token:    cfg.Token,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Transport: transport},
	}, nil
}

func (c *Client) Fetch(ctx context.Context, degraded bool) (*Snapshot, error) {
	metrics := make(map[Key]Value)

	if err := c.fetchProduction(ctx, metrics); err != nil {
		return nil, err
	}

	var inverters map[string]Inverter
	if !degraded {
		inv, err := c.fetchInverters(ctx)
		if err != nil {
			return nil, err
		}
		inverters = inv
	}

	batteries, err := c.fetchBatteries(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.fetchGridStatus(ctx, metrics); err != nil {
		return nil, err
	}

	return &Snapshot{
		Timestamp: time.Now(),
		Metrics:   metrics,
		Inverters: inverters,
		Batteries: batteries,
	}, nil
}

// Wire formats. Fields reported only by metered gateways decode through
// pointers so a missing field stays an absent metric rather than a zero.
type productionMeasurement struct {
	Type            string   `json:"type"`
	MeasurementType string   `json:"measurementType"`
	WNow            *float64 `json:"wNow"`
	WhToday         *float64 `json:"whToday"`
	WhLastSevenDays *float64 `json:"whLastSevenDays"`
	WhLifetime      *float64 `json:"whLifetime"`
}

type productionResponse struct {
	Production  []productionMeasurement `json:"production"`
	Consumption []productionMeasurement `json:"consumption"`
}

type productionV1Response struct {
	WattsNow           *float64 `json:"wattsNow"`
	WattHoursToday     *float64 `json:"wattHoursToday"`
	WattHoursSevenDays *float64 `json:"wattHoursSevenDays"`
	WattHoursLifetime  *float64 `json:"wattHoursLifetime"`
}

type inverterEntry struct {
	SerialNumber    string  `json:"serialNumber"`
	LastReportDate  int64   `json:"lastReportDate"`
	LastReportWatts float64 `json:"lastReportWatts"`
}

type ensembleDevice struct {
	SerialNum        string  `json:"serial_num"`
	PercentFull      float64 `json:"percentFull"`
	EnchargeCapacity float64 `json:"encharge_capacity"`
	LastReportDate   int64   `json:"last_rpt_date"`
}

type ensembleEntry struct {
	Type    string           `json:"type"`
	Devices []ensembleDevice `json:"devices"`
}

type homeResponse struct {
	Enpower struct {
		GridStatus string `json:"grid_status"`
	} `json:"enpower"`
}

func (c *Client) fetchProduction(ctx context.Context, metrics map[Key]Value) error {
	var pr productionResponse
	status, err := c.getJSON(ctx, productionPath, &pr)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		// Older firmware only exposes the v1 endpoint, which reports
		// production rollups without consumption metering.
		return c.fetchProductionV1(ctx, metrics)
	}

	if m := pickMeasurement(pr.Production, "production"); m != nil {
		setNumber(metrics, KeyProduction, m.WNow)
		setNumber(metrics, KeyDailyProduction, m.WhToday)
		setNumber(metrics, KeySevenDaysProduction, m.WhLastSevenDays)
		setNumber(metrics, KeyLifetimeProduction, m.WhLifetime)
	}

	if m := pickMeasurement(pr.Consumption, "total-consumption"); m != nil {
		setNumber(metrics, KeyConsumption, m.WNow)
		setNumber(metrics, KeyDailyConsumption, m.WhToday)
		setNumber(metrics, KeySevenDaysConsumption, m.WhLastSevenDays)
		setNumber(metrics, KeyLifetimeConsumption, m.WhLifetime)
	}

	return nil
}

func (c *Client) fetchProductionV1(ctx context.Context, metrics map[Key]Value) error {
	var pr productionV1Response
	status, err := c.getJSON(ctx, productionV1, &pr)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}

	setNumber(metrics, KeyProduction, pr.WattsNow)
	setNumber(metrics, KeyDailyProduction, pr.WattHoursToday)
	setNumber(metrics, KeySevenDaysProduction, pr.WattHoursSevenDays)
	setNumber(metrics, KeyLifetimeProduction, pr.WattHoursLifetime)

	return nil
}

func (c *Client) fetchInverters(ctx context.Context) (map[string]Inverter, error) {
	var entries []inverterEntry
	status, err := c.getJSON(ctx, invertersPath, &entries)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	inverters := make(map[string]Inverter, len(entries))
	for _, e := range entries {
		inverters[e.SerialNumber] = Inverter{
			WattsNow:   e.LastReportWatts,
			LastReport: time.Unix(e.LastReportDate, 0),
		}
	}
	logger.Debug().Msgf("Fetched %d inverter reports", len(inverters))

	return inverters, nil
}

func (c *Client) fetchBatteries(ctx context.Context) (map[string]Battery, error) {
	var entries []ensembleEntry
	status, err := c.getJSON(ctx, ensemblePath, &entries)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	// Only storage entries count; a gateway without storage hardware
	// reports no ENCHARGE section at all, which callers observe as a nil
	// map rather than an empty one.
	var batteries map[string]Battery
	for _, entry := range entries {
		if entry.Type != "ENCHARGE" {
			continue
		}
		if batteries == nil {
			batteries = make(map[string]Battery, len(entry.Devices))
		}
		for _, d := range entry.Devices {
			batteries[d.SerialNum] = Battery{
				PercentFull: d.PercentFull,
				CapacityWh:  d.EnchargeCapacity,
				LastReport:  time.Unix(d.LastReportDate, 0),
			}
		}
	}

	return batteries, nil
}

func (c *Client) fetchGridStatus(ctx context.Context, metrics map[Key]Value) error {
	var home homeResponse
	status, err := c.getJSON(ctx, homePath, &home)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || home.Enpower.GridStatus == "" {
		return nil
	}

	metrics[KeyGridStatus] = Status(home.Enpower.GridStatus)

	return nil
}

// getJSON issues one GET and decodes the body into out. A 404 is reported
// through the returned status with a nil error so callers can treat the
// endpoint as absent.
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrFetchFatal, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errFactory.Wrap(ErrFetchTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, errFactory.WithData(ErrAuthRejected, path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return resp.StatusCode, errFactory.WithData(ErrFetchTransient, resp.Status)
	default:
		return resp.StatusCode, errFactory.WithData(ErrFetchFatal, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, errFactory.Wrap(ErrFetchTransient, err)
	}

	return resp.StatusCode, nil
}

func pickMeasurement(entries []productionMeasurement, measurementType string) *productionMeasurement {
	for i := range entries {
		if entries[i].Type == "eim" && entries[i].MeasurementType == measurementType {
			return &entries[i]
		}
	}
	if len(entries) > 0 {
		return &entries[0]
	}

	return nil
}

func setNumber(metrics map[Key]Value, key Key, v *float64) {
	if v == nil {
		return
	}
	metrics[key] = Number(*v)
}
