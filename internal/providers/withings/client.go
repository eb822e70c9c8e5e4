// Package withings pulls body measurements from the Withings API and
// normalizes them into canonical rows, weight converted to pounds.
package withings

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/providers"
	"github.com/fitly-app/fitly/pkg"
)

// measure types of the getmeas endpoint
const (
	measureTypeWeight   = 1
	measureTypeFatRatio = 6
)

type Config struct {
	APIURL       string // https://wbsapi.withings.net
	AuthURL      string // https://account.withings.com
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
	c.tokens = providers.NewTokenManager(fitness.SourceWithings, conns, c.refreshToken)
	return c
}

func (c *Client) Source() fitness.Source {
	return fitness.SourceWithings
}

func (c *Client) AuthCodeURL(state string) string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", c.cfg.ClientID)
	query.Set("redirect_uri", c.cfg.RedirectURI)
	query.Set("scope", "user.metrics")
	query.Set("state", state)
	return c.cfg.AuthURL + "/oauth2_user/authorize2?" + query.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (providers.Token, error) {
	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenRequest(ctx, form)
}

func (c *Client) refreshToken(ctx context.Context, refreshToken string) (providers.Token, error) {
	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, form)
}

// Withings wraps every response in {"status": N, "body": {...}}, HTTP 200
// even on failures. Status 0 is success, 401 an auth failure, 601 rate
// limiting.
type envelope struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func errFromWithingsStatus(status int) error {
	switch status {
	case 0:
		return nil
	case 401, 100, 101, 102, 200:
		return fmt.Errorf("%w: withings status %d", providers.ErrAuthExpired, status)
	case 601:
		return providers.ErrRateLimited
	default:
		return fmt.Errorf("%w: withings status %d", providers.ErrUpstreamUnavailable, status)
	}
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (providers.Token, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.cfg.APIURL+"/v2/oauth2",
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
		return providers.Token{}, fmt.Errorf("withings token request: %w", err)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return providers.Token{}, fmt.Errorf("decode withings token response: %w", err)
	}
	if err := errFromWithingsStatus(env.Status); err != nil {
		return providers.Token{}, err
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(env.Body, &tokenResp); err != nil {
		return providers.Token{}, fmt.Errorf("decode withings token body: %w", err)
	}

	return providers.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

// FetchWindow pulls weight and fat ratio measurements for the window.
func (c *Client) FetchWindow(ctx context.Context, window providers.Window) (rows fitness.Rows, err error) {
	resp, err := providers.DoAuthorized(ctx, c.httpClient, c.tokens, func(accessToken string) (*http.Request, error) {
		query := url.Values{}
		query.Set("action", "getmeas")
		query.Set("meastypes", fmt.Sprintf("%d,%d", measureTypeWeight, measureTypeFatRatio))
		if !window.Since.IsZero() {
			query.Set("startdate", strconv.FormatInt(window.Since.Unix(), 10))
		}
		if !window.Until.IsZero() {
			query.Set("enddate", strconv.FormatInt(window.Until.Unix(), 10))
		}
		req, err := http.NewRequest(http.MethodGet, c.cfg.APIURL+"/measure?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req, nil
	})
	if err != nil {
		return rows, fmt.Errorf("fetch withings measures: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return rows, fmt.Errorf("decode withings measures response: %w", err)
	}
	if err := errFromWithingsStatus(env.Status); err != nil {
		return rows, fmt.Errorf("fetch withings measures: %w", err)
	}

	var body struct {
		MeasureGroups []struct {
			Date     int64 `json:"date"` // unix seconds
			Measures []struct {
				Value int `json:"value"`
				Type  int `json:"type"`
				Unit  int `json:"unit"` // power of ten
			} `json:"measures"`
		} `json:"measuregrps"`
	}
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return rows, fmt.Errorf("decode withings measures body: %w", err)
	}

	for _, group := range body.MeasureGroups {
		measurement := fitness.WeightMeasurement{
			MeasuredAt: time.Unix(group.Date, 0).UTC(),
		}
		var hasWeight bool
		for _, m := range group.Measures {
			value := float64(m.Value) * math.Pow10(m.Unit)
			switch m.Type {
			case measureTypeWeight:
				measurement.WeightLbs = pkg.KilogramsToPounds(value)
				hasWeight = true
			case measureTypeFatRatio:
				fatRatio := value
				measurement.FatRatio = &fatRatio
			}
		}
		// groups without a weight reading (standalone fat ratio) are useless
		if hasWeight {
			rows.Weights = append(rows.Weights, measurement)
		}
	}
	return rows, nil
}
