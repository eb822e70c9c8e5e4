// Package oura pulls sleep, readiness and daily activity summaries from
// the Oura cloud API (v1) and normalizes them into canonical rows.
package oura

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/providers"
)

const dateLayout = "2006-01-02"

type Config struct {
	APIURL       string // https://api.ouraring.com
	AuthURL      string // https://cloud.ouraring.com
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *providers.TokenManager
}

func NewClient(cfg Config, conns providers.ConnectionsStore, httpClient *http.Client) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}
	c.tokens = providers.NewTokenManager(fitness.SourceOura, conns, c.refreshToken)
	return c
}

func (c *Client) Source() fitness.Source {
	return fitness.SourceOura
}

func (c *Client) AuthCodeURL(state string) string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", c.cfg.ClientID)
	query.Set("redirect_uri", c.cfg.RedirectURI)
	query.Set("state", state)
	return c.cfg.AuthURL + "/oauth/authorize?" + query.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (providers.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenRequest(ctx, form)
}

func (c *Client) refreshToken(ctx context.Context, refreshToken string) (providers.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (providers.Token, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.cfg.APIURL+"/oauth/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return providers.Token{}, fmt.Errorf("new token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Token{}, fmt.Errorf("%w: %s", providers.ErrUpstreamUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := providers.ErrFromStatus(resp.StatusCode); err != nil {
		return providers.Token{}, fmt.Errorf("oura token request: %w", err)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return providers.Token{}, fmt.Errorf("decode oura token response: %w", err)
	}

	return providers.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

// FetchWindow pulls sleep, readiness and activity summaries for the window
// and normalizes them. Summaries already fetched survive a failure of a
// later endpoint.
func (c *Client) FetchWindow(ctx context.Context, window providers.Window) (rows fitness.Rows, err error) {
	sleeps, err := c.fetchSleep(ctx, window)
	if err != nil {
		return rows, fmt.Errorf("fetch oura sleep: %w", err)
	}
	rows.Sleeps = sleeps

	readiness, err := c.fetchReadiness(ctx, window)
	if err != nil {
		return rows, fmt.Errorf("fetch oura readiness: %w", err)
	}
	rows.Readiness = readiness

	activity, err := c.fetchActivity(ctx, window)
	if err != nil {
		return rows, fmt.Errorf("fetch oura activity: %w", err)
	}
	rows.ActivityDailies = activity

	return rows, nil
}

func (c *Client) summariesRequest(path string, window providers.Window) func(string) (*http.Request, error) {
	return func(accessToken string) (*http.Request, error) {
		query := url.Values{}
		if !window.Since.IsZero() {
			query.Set("start", window.Since.UTC().Format(dateLayout))
		}
		if !window.Until.IsZero() {
			query.Set("end", window.Until.UTC().Format(dateLayout))
		}
		req, err := http.NewRequest(http.MethodGet, c.cfg.APIURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req, nil
	}
}

type sleepSummary struct {
	SummaryDate string  `json:"summary_date"`
	Score       int     `json:"score"`
	Total       int     `json:"total"`    // seconds asleep
	Duration    int     `json:"duration"` // seconds in bed
	HRLowest    float64 `json:"hr_lowest"`
	HRAverage   float64 `json:"hr_average"`
	RMSSD       float64 `json:"rmssd"`
}

func (c *Client) fetchSleep(ctx context.Context, window providers.Window) ([]fitness.SleepSummary, error) {
	resp, err := providers.DoAuthorized(ctx, c.httpClient, c.tokens, c.summariesRequest("/v1/sleep", window))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload struct {
		Sleep []sleepSummary `json:"sleep"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sleep response: %w", err)
	}

	summaries := make([]fitness.SleepSummary, 0, len(payload.Sleep))
	for _, s := range payload.Sleep {
		date, err := time.Parse(dateLayout, s.SummaryDate)
		if err != nil {
			return nil, fmt.Errorf("sleep summary date %q: %w", s.SummaryDate, err)
		}
		summaries = append(summaries, fitness.SleepSummary{
			Date:              date,
			Score:             s.Score,
			TotalSleepSeconds: s.Total,
			TimeInBedSeconds:  s.Duration,
			HRLowest:          s.HRLowest,
			HRAverage:         s.HRAverage,
			RMSSD:             s.RMSSD,
		})
	}
	return summaries, nil
}

func (c *Client) fetchReadiness(ctx context.Context, window providers.Window) ([]fitness.ReadinessSummary, error) {
	resp, err := providers.DoAuthorized(ctx, c.httpClient, c.tokens, c.summariesRequest("/v1/readiness", window))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload struct {
		Readiness []struct {
			SummaryDate string `json:"summary_date"`
			Score       int    `json:"score"`
		} `json:"readiness"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode readiness response: %w", err)
	}

	summaries := make([]fitness.ReadinessSummary, 0, len(payload.Readiness))
	for _, r := range payload.Readiness {
		date, err := time.Parse(dateLayout, r.SummaryDate)
		if err != nil {
			return nil, fmt.Errorf("readiness summary date %q: %w", r.SummaryDate, err)
		}
		summaries = append(summaries, fitness.ReadinessSummary{
			Date:  date,
			Score: r.Score,
		})
	}
	return summaries, nil
}

func (c *Client) fetchActivity(ctx context.Context, window providers.Window) ([]fitness.ActivityDaily, error) {
	resp, err := providers.DoAuthorized(ctx, c.httpClient, c.tokens, c.summariesRequest("/v1/activity", window))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload struct {
		Activity []struct {
			SummaryDate   string `json:"summary_date"`
			Score         int    `json:"score"`
			CalActive     int    `json:"cal_active"`
			CalTotal      int    `json:"cal_total"`
			DailyMovement int    `json:"daily_movement"`
		} `json:"activity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode activity response: %w", err)
	}

	dailies := make([]fitness.ActivityDaily, 0, len(payload.Activity))
	for _, a := range payload.Activity {
		date, err := time.Parse(dateLayout, a.SummaryDate)
		if err != nil {
			return nil, fmt.Errorf("activity summary date %q: %w", a.SummaryDate, err)
		}
		dailies = append(dailies, fitness.ActivityDaily{
			Date:          date,
			Score:         a.Score,
			CaloriesTotal: a.CalTotal,
			CaloriesOut:   a.CalActive,
			DailyMovement: a.DailyMovement,
		})
	}
	return dailies, nil
}
