// Package peloton pulls completed workouts from the Peloton API. Peloton
// has no OAuth, a username/password login yields a session cookie.
package peloton

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/providers"
	log "github.com/sirupsen/logrus"
)

const (
	workoutsPerPage = 100
	sessionCookie   = "peloton_session_id"

	classTypesCacheKey = "class-types"
	classTypesCacheTTL = 24 * 60 * 60 // seconds, the catalog barely changes
)

type Config struct {
	APIURL   string // https://api.onepeloton.com
	Username string
	Password string
}

type Client struct {
	cfg        Config
	httpClient *http.Client

	mutex     sync.Mutex
	sessionID string
	userID    string

	classTypesCache *freecache.Cache
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		cfg:             cfg,
		httpClient:      httpClient,
		classTypesCache: freecache.NewCache(1024 * 1024),
	}
}

func (c *Client) Source() fitness.Source {
	return fitness.SourcePeloton
}

func (c *Client) login(ctx context.Context) (sessionID, userID string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.sessionID != "" {
		return c.sessionID, c.userID, nil
	}

	if c.cfg.Username == "" || c.cfg.Password == "" {
		return "", "", providers.ErrNotConnected
	}

	payload, err := json.Marshal(map[string]string{
		"username_or_email": c.cfg.Username,
		"password":          c.cfg.Password,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.APIURL+"/auth/login", bytes.NewReader(payload),
	)
	if err != nil {
		return "", "", fmt.Errorf("new login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", providers.ErrUpstreamUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := providers.ErrFromStatus(resp.StatusCode); err != nil {
		return "", "", fmt.Errorf("peloton login: %w", err)
	}

	var loginResp struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", "", fmt.Errorf("decode login response: %w", err)
	}

	c.sessionID = loginResp.SessionID
	c.userID = loginResp.UserID
	return c.sessionID, c.userID, nil
}

func (c *Client) dropSession() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sessionID = ""
	c.userID = ""
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	sessionID, _, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", providers.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// stale session, login again once
		_ = resp.Body.Close()
		c.dropSession()
		if sessionID, _, err = c.login(ctx); err != nil {
			return nil, err
		}
		req.Header.Del("Cookie")
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		if resp, err = c.httpClient.Do(req); err != nil {
			return nil, fmt.Errorf("%w: %s", providers.ErrUpstreamUnavailable, err)
		}
	}
	if err := providers.ErrFromStatus(resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

type pelotonWorkout struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"created_at"` // unix seconds
	Status     string `json:"status"`
	Discipline string `json:"fitness_discipline"`
	Ride       struct {
		Title        string   `json:"title"`
		ClassTypeIDs []string `json:"class_type_ids"`
		Instructor   struct {
			Name string `json:"name"`
		} `json:"instructor"`
	} `json:"ride"`
}

// FetchWindow pages through the athlete's workouts, newest first, and stops
// once a page falls entirely before the window. Pages fetched before a
// failure are kept.
func (c *Client) FetchWindow(ctx context.Context, window providers.Window) (rows fitness.Rows, err error) {
	_, userID, err := c.login(ctx)
	if err != nil {
		return rows, err
	}

	for page := 0; ; page++ {
		workouts, hasNext, err := c.fetchWorkoutsPage(ctx, userID, page)
		if err != nil {
			return rows, fmt.Errorf("fetch peloton workouts page %d: %w", page, err)
		}

		var reachedWindowStart bool
		for _, w := range workouts {
			startDate := time.Unix(w.CreatedAt, 0).UTC()
			if !window.Since.IsZero() && startDate.Before(window.Since) {
				reachedWindowStart = true
				continue
			}
			if !window.Until.IsZero() && startDate.After(window.Until) {
				continue
			}
			rows.PelotonWorkouts = append(rows.PelotonWorkouts, fitness.PelotonWorkout{
				WorkoutID:         w.ID,
				StartDate:         startDate,
				FitnessDiscipline: w.Discipline,
				ClassTitle:        w.Ride.Title,
				ClassTypeIDs:      w.Ride.ClassTypeIDs,
				Instructor:        w.Ride.Instructor.Name,
				Status:            w.Status,
			})
		}

		if reachedWindowStart || !hasNext || len(workouts) == 0 {
			return rows, nil
		}
	}
}

func (c *Client) fetchWorkoutsPage(ctx context.Context, userID string, page int) (_ []pelotonWorkout, hasNext bool, err error) {
	query := url.Values{}
	query.Set("joins", "ride,ride.instructor")
	query.Set("limit", strconv.Itoa(workoutsPerPage))
	query.Set("page", strconv.Itoa(page))

	resp, err := c.get(ctx, fmt.Sprintf("/api/user/%s/workouts?%s", userID, query.Encode()))
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload struct {
		Data        []pelotonWorkout `json:"data"`
		ShowNext    bool             `json:"show_next"`
		PageCount   int              `json:"page_count"`
		CurrentPage int              `json:"page"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("decode workouts response: %w", err)
	}
	return payload.Data, payload.ShowNext || payload.CurrentPage < payload.PageCount-1, nil
}

// ClassType is one entry of the Peloton class catalog.
type ClassType struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	FitnessDiscipline string `json:"fitness_discipline"`
}

// ClassTypes returns the class catalog, cached for a day.
func (c *Client) ClassTypes(ctx context.Context) ([]ClassType, error) {
	if cached, err := c.classTypesCache.Get([]byte(classTypesCacheKey)); err == nil {
		var classTypes []ClassType
		if err := json.Unmarshal(cached, &classTypes); err != nil {
			log.Warnf("unmarshal cached peloton class types: %s", err)
		} else {
			return classTypes, nil
		}
	}

	resp, err := c.get(ctx, "/api/ride/metadata_mappings")
	if err != nil {
		return nil, fmt.Errorf("fetch peloton class types: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload struct {
		ClassTypes []ClassType `json:"class_types"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode class types response: %w", err)
	}

	if serialized, err := json.Marshal(payload.ClassTypes); err == nil {
		if err := c.classTypesCache.Set([]byte(classTypesCacheKey), serialized, classTypesCacheTTL); err != nil {
			log.Warnf("cache peloton class types: %s", err)
		}
	}
	return payload.ClassTypes, nil
}

// FitnessDisciplines returns the set of disciplines the class catalog
// currently knows.
func (c *Client) FitnessDisciplines(ctx context.Context) (map[string]struct{}, error) {
	classTypes, err := c.ClassTypes(ctx)
	if err != nil {
		return nil, err
	}

	disciplines := make(map[string]struct{}, len(classTypes))
	for _, classType := range classTypes {
		disciplines[classType.FitnessDiscipline] = struct{}{}
	}
	return disciplines, nil
}
