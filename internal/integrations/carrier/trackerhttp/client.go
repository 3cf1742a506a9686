package trackerhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/LockerBox/internal/integrations/carrier"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://apis.tracker.delivery"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			// Верхняя граница на случай, если вызывающий не поставил дедлайн в ctx.
			Timeout: 30 * time.Second,
		},
	}
}

type trackResp struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        struct {
		Name string `json:"name"`
	} `json:"carrier"`
	Progresses []struct {
		Time   string `json:"time"`
		Status struct {
			Text string `json:"text"`
		} `json:"status"`
		Location struct {
			Name   string `json:"name"`
			Detail string `json:"detail"`
		} `json:"location"`
		Description string `json:"description"`
	} `json:"progresses"`
	EstimatedDelivery *string `json:"estimatedDelivery"`
}

func (c *Client) GetTrack(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.TrackResponse{}, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/carriers/%s/tracks/%s", url.PathEscape(carrierID), url.PathEscape(trackID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.TrackResponse{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Таймаут/отмена — проблема одной посылки, а не всего API.
		if ctx.Err() != nil {
			return carrier.TrackResponse{}, errors.Wrap(ctx.Err(), "do request")
		}
		return carrier.TrackResponse{}, errors.Wrap(carrier.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return carrier.TrackResponse{}, errors.Wrapf(carrier.ErrTrackNotFound, "%s/%s", carrierID, trackID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return carrier.TrackResponse{}, carrier.ErrRateLimited
	case resp.StatusCode/100 != 2:
		// 5xx здесь тоже про одну посылку: API отвечает, не смог только перевозчик.
		return carrier.TrackResponse{}, errors.Errorf("tracker http %d for %s/%s", resp.StatusCode, carrierID, trackID)
	}

	var r trackResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return carrier.TrackResponse{}, errors.Wrap(err, "decode")
	}

	out := carrier.TrackResponse{
		TrackingNumber: r.TrackingNumber,
		CarrierName:    r.Carrier.Name,
		Progresses:     make([]carrier.Progress, 0, len(r.Progresses)),
	}
	for _, p := range r.Progresses {
		ts, err := parseTime(p.Time)
		if err != nil {
			return carrier.TrackResponse{}, errors.Wrapf(err, "parse progress time %q", p.Time)
		}
		out.Progresses = append(out.Progresses, carrier.Progress{
			Time:           ts,
			StatusText:     p.Status.Text,
			LocationName:   p.Location.Name,
			LocationDetail: p.Location.Detail,
			Description:    p.Description,
		})
	}
	if r.EstimatedDelivery != nil && *r.EstimatedDelivery != "" {
		if ts, err := parseTime(*r.EstimatedDelivery); err == nil {
			out.EstimatedDelivery = &ts
		}
	}
	return out, nil
}

// parseTime accepts RFC3339 and the offset-less local form some carriers send (KST).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, kst)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var kst = time.FixedZone("KST", 9*60*60)
